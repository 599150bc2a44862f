package recommend

import (
	"errors"
	"fmt"
	"strings"

	"recipe-recommender/internal/pkg/common"
)

// wireSelection oracle 輸出的單一選擇；必填欄位以指標判斷是否存在
type wireSelection struct {
	RecipeID        *string  `json:"recipe_id"`
	ConfidenceScore *float64 `json:"confidence_score"`
	Reasoning       *string  `json:"reasoning"`
	StrategyCard    string   `json:"strategy_card"`
}

type wireAvoided struct {
	RecipeID    string `json:"recipe_id"`
	RecipeTitle string `json:"recipe_title"`
	Reason      string `json:"reason"`
}

type wireResponse struct {
	Recommendations *[]wireSelection `json:"recommendations"`
	Avoided         []wireAvoided    `json:"avoided"`
}

// Parsed 解析後的 oracle 回應
type Parsed struct {
	Selections  []Selection
	Avoided     []Avoided
	Diagnostics Diagnostics
}

// malformed 建立解析失敗錯誤
func malformed(format string, args ...any) error {
	return &PipelineError{Kind: ErrOracleResponseMalformed, Stage: StageParse, Err: fmt.Errorf(format, args...)}
}

// ParseResponse 解析 oracle 原始輸出
//
// 接受 {"recommendations": [...], "avoided": [...]} 物件，或舊格式的選擇陣列。
// 任何結構錯誤都使整個回應失敗，不做修補或預設值。
// 不在候選集中的 ID 會被移除並記錄於 Diagnostics.UnknownIDs。
func ParseResponse(raw string, cs *CandidateSet, minAvoided int) (*Parsed, error) {
	payload := common.ExtractJSONPayload(raw)
	if payload == "" {
		return nil, malformed("no JSON payload found")
	}

	var (
		selections []wireSelection
		avoided    []wireAvoided
		diag       Diagnostics
	)
	if strings.HasPrefix(payload, "[") {
		if err := common.ParseJSON(payload, &selections); err != nil {
			return nil, malformed("invalid JSON array: %v", err)
		}
		diag.LegacyArrayFormat = true
	} else {
		var resp wireResponse
		if err := common.ParseJSON(payload, &resp); err != nil {
			return nil, malformed("invalid JSON object: %v", err)
		}
		if resp.Recommendations == nil {
			return nil, malformed("missing required key %q", "recommendations")
		}
		selections = *resp.Recommendations
		avoided = resp.Avoided
	}

	out := &Parsed{}
	seen := make(map[string]struct{}, len(selections))
	for i, ws := range selections {
		sel, err := checkSelection(i, ws)
		if err != nil {
			return nil, err
		}
		if _, ok := cs.Lookup(sel.RecipeID); !ok {
			diag.UnknownIDs = append(diag.UnknownIDs, sel.RecipeID)
			continue
		}
		if _, dup := seen[sel.RecipeID]; dup {
			diag.DuplicateIDs = append(diag.DuplicateIDs, sel.RecipeID)
			continue
		}
		seen[sel.RecipeID] = struct{}{}
		out.Selections = append(out.Selections, sel)
	}

	avoidedSeen := make(map[string]struct{}, len(avoided))
	for _, wa := range avoided {
		id := strings.TrimSpace(wa.RecipeID)
		r, ok := cs.Lookup(id)
		if !ok {
			if id != "" {
				diag.UnknownIDs = append(diag.UnknownIDs, id)
			}
			continue
		}
		if _, dup := avoidedSeen[id]; dup {
			continue
		}
		avoidedSeen[id] = struct{}{}
		out.Avoided = append(out.Avoided, Avoided{
			RecipeID: r.ID,
			Title:    r.Title,
			Reason:   strings.TrimSpace(wa.Reason),
			Origin:   OriginOracle,
		})
	}

	diag.UniformConfidence = uniformConfidence(out.Selections)
	diag.NonDiscriminating = diag.UniformConfidence || len(out.Avoided) < minAvoided
	out.Diagnostics = diag
	return out, nil
}

func checkSelection(i int, ws wireSelection) (Selection, error) {
	switch {
	case ws.RecipeID == nil || strings.TrimSpace(*ws.RecipeID) == "":
		return Selection{}, malformed("selection %d: missing recipe_id", i)
	case ws.ConfidenceScore == nil:
		return Selection{}, malformed("selection %d: missing confidence_score", i)
	case ws.Reasoning == nil || strings.TrimSpace(*ws.Reasoning) == "":
		return Selection{}, malformed("selection %d: missing reasoning", i)
	}
	score := *ws.ConfidenceScore
	if score < 0 || score > 1 {
		return Selection{}, malformed("selection %d: confidence_score %v outside [0,1]", i, score)
	}
	return Selection{
		RecipeID:   strings.TrimSpace(*ws.RecipeID),
		Confidence: score,
		Strategy:   strings.TrimSpace(ws.StrategyCard),
		Reasoning:  strings.TrimSpace(*ws.Reasoning),
	}, nil
}

// uniformConfidence 三個以上選擇且信心度完全相同
func uniformConfidence(sel []Selection) bool {
	if len(sel) < 3 {
		return false
	}
	for _, s := range sel[1:] {
		if s.Confidence != sel[0].Confidence {
			return false
		}
	}
	return true
}

// IsMalformed 判斷是否為 oracle 回應格式錯誤
func IsMalformed(err error) bool {
	return errors.Is(err, ErrOracleResponseMalformed)
}
