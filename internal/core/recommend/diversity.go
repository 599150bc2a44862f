package recommend

import (
	"fmt"

	"recipe-recommender/internal/core/catalog"
)

// Diversify 以正規化標題去重，保留 oracle 原始順序中的第一個
func Diversify(items []Approved) ([]Approved, []Avoided) {
	kept := make([]Approved, 0, len(items))
	var dropped []Avoided
	first := make(map[string]string, len(items))

	for _, it := range items {
		key := catalog.NormalizeTitle(it.Recipe.Title)
		if keptID, dup := first[key]; dup {
			dropped = append(dropped, Avoided{
				RecipeID:         it.Recipe.ID,
				Title:            it.Recipe.Title,
				Reason:           fmt.Sprintf("duplicate of %s (same normalized title %q)", keptID, key),
				Origin:           OriginDiversity,
				OracleReasoning:  it.Reasoning,
				OracleConfidence: it.Confidence,
			})
			continue
		}
		first[key] = it.Recipe.ID
		kept = append(kept, it)
	}
	return kept, dropped
}
