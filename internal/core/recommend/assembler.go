package recommend

// Assemble 組裝最終推薦清單
//
// 少於 minResults 視為請求失敗，不返回不足的部分結果；超過 maxResults 時依原順序截斷。
func Assemble(items []Approved, minResults, maxResults int) ([]Recommendation, error) {
	if len(items) < minResults {
		return nil, &PipelineError{
			Kind:  ErrInsufficientValidatedResults,
			Stage: StageAssemble,
			Got:   len(items),
			Need:  minResults,
		}
	}
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
	}

	out := make([]Recommendation, 0, len(items))
	for _, it := range items {
		r := it.Recipe
		out = append(out, Recommendation{
			RecipeID:          r.ID,
			Title:             r.Title,
			Description:       r.Description,
			CookTimeMinutes:   r.CookTimeMinutes,
			SourceName:        r.SourceName,
			SourceURL:         r.SourceURL,
			ImageURL:          r.ImageURL,
			Confidence:        it.Confidence,
			Strategy:          it.Strategy,
			Reasoning:         it.Reasoning,
			ValidatorApproved: true,
		})
	}
	return out, nil
}
