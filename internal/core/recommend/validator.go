package recommend

import (
	"fmt"
	"strings"

	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/taxonomy"
)

// Check 驗證項目
type Check string

// 驗證順序即為下列宣告順序，遇到第一個失敗即停止
const (
	CheckDietaryType  Check = "dietary_type"
	CheckAlliumFree   Check = "allium_free"
	CheckTimeBudget   Check = "time_budget"
	CheckProhibited   Check = "prohibited_ingredient"
	CheckConfidence   Check = "confidence_threshold"
	CheckUnknownMatch Check = "not_in_candidates"
)

// Violation 單一項目的限制違反（不是 error，只記入 avoided 清單）
type Violation struct {
	Check  Check
	Reason string
}

// checkDietary 飲食類型必須恰好有一個標籤且完全相同
func checkDietary(c *Constraints, r *catalog.Recipe) *Violation {
	vals := r.TagValues(taxonomy.DimDietaryType)
	switch {
	case len(vals) == 0:
		return &Violation{CheckDietaryType, "dietary_type tag missing"}
	case len(vals) > 1:
		return &Violation{CheckDietaryType, fmt.Sprintf("ambiguous dietary_type tags %v", vals)}
	case vals[0] != c.DietaryType:
		return &Violation{CheckDietaryType, fmt.Sprintf("dietary mismatch: recipe is %s, profile requires %s", vals[0], c.DietaryType)}
	}
	return nil
}

// checkAllium 標籤缺失視為含蔥蒜
func checkAllium(c *Constraints, r *catalog.Recipe) *Violation {
	if !c.AlliumRequiredAbsent {
		return nil
	}
	vals := r.TagValues(taxonomy.DimAlliumFree)
	if len(vals) == 0 {
		return &Violation{CheckAlliumFree, "allium_free tag missing; profile requires allium-free"}
	}
	for _, v := range vals {
		if v != taxonomy.True {
			return &Violation{CheckAlliumFree, fmt.Sprintf("allium_free is %s; profile requires allium-free", v)}
		}
	}
	return nil
}

func checkTime(c *Constraints, r *catalog.Recipe) *Violation {
	if c.TimeBudgetMinutes == nil || r.CookTimeMinutes == nil {
		return nil
	}
	if *r.CookTimeMinutes > *c.TimeBudgetMinutes {
		return &Violation{CheckTimeBudget, fmt.Sprintf("cook time %d min exceeds budget %d min", *r.CookTimeMinutes, *c.TimeBudgetMinutes)}
	}
	return nil
}

func checkProhibited(c *Constraints, r *catalog.Recipe) *Violation {
	if len(c.ProhibitedTerms) == 0 {
		return nil
	}
	text := strings.ToLower(r.Title + "\n" + r.Description)
	for _, term := range c.ProhibitedTerms {
		if strings.Contains(text, term) {
			return &Violation{CheckProhibited, fmt.Sprintf("contains prohibited ingredient %q", term)}
		}
	}
	return nil
}

// checkRecipe 不涉及 oracle 信心度的硬性限制（候選篩選與驗證共用）
func checkRecipe(c *Constraints, r *catalog.Recipe) *Violation {
	for _, check := range []func(*Constraints, *catalog.Recipe) *Violation{
		checkDietary, checkAllium, checkTime, checkProhibited,
	} {
		if v := check(c, r); v != nil {
			return v
		}
	}
	return nil
}

// Validate 以目錄標籤重新驗證單一選擇
//
// 純函數：結果只取決於限制、食譜記錄與信心度，與 oracle 的理由文字無關。
// 信心度檢查與硬性限制彼此獨立，兩者都必須通過。
func Validate(c Constraints, r *catalog.Recipe, confidence, threshold float64) *Violation {
	if v := checkRecipe(&c, r); v != nil {
		return v
	}
	if confidence < threshold {
		return &Violation{CheckConfidence, fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, threshold)}
	}
	return nil
}

// Approved 通過驗證的選擇與其目錄記錄
type Approved struct {
	Selection
	Recipe catalog.Recipe
}

// ValidateAll 依 oracle 順序驗證所有選擇
func ValidateAll(c Constraints, cs *CandidateSet, selections []Selection, threshold float64) ([]Approved, []Avoided) {
	approved := make([]Approved, 0, len(selections))
	var avoided []Avoided
	for _, sel := range selections {
		r, ok := cs.Lookup(sel.RecipeID)
		if !ok {
			// 解析器已移除未知 ID，這裡僅防止呼叫端略過解析步驟
			continue
		}
		if v := Validate(c, r, sel.Confidence, threshold); v != nil {
			avoided = append(avoided, Avoided{
				RecipeID:         r.ID,
				Title:            r.Title,
				Reason:           v.Reason,
				Origin:           OriginValidator,
				Check:            v.Check,
				OracleReasoning:  sel.Reasoning,
				OracleConfidence: sel.Confidence,
			})
			continue
		}
		approved = append(approved, Approved{Selection: sel, Recipe: *r})
	}
	return approved, avoided
}
