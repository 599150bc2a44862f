package recommend

import (
	"context"
	"fmt"
	"time"

	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/taxonomy"
)

// CandidateSet 單次請求的候選集（已排序、去重、截斷）
type CandidateSet struct {
	Recipes     []catalog.Recipe
	Constraints Constraints
	Level       int

	byID map[string]int
}

func newCandidateSet(recipes []catalog.Recipe, c Constraints, level int) *CandidateSet {
	cs := &CandidateSet{
		Recipes:     recipes,
		Constraints: c,
		Level:       level,
		byID:        make(map[string]int, len(recipes)),
	}
	for i, r := range recipes {
		cs.byID[r.ID] = i
	}
	return cs
}

// Lookup 依 ID 取得候選
func (cs *CandidateSet) Lookup(id string) (*catalog.Recipe, bool) {
	i, ok := cs.byID[id]
	if !ok {
		return nil, false
	}
	return &cs.Recipes[i], true
}

// Len 候選數量
func (cs *CandidateSet) Len() int {
	return len(cs.Recipes)
}

// IDs 返回候選 ID（依排序）
func (cs *CandidateSet) IDs() []string {
	out := make([]string, len(cs.Recipes))
	for i, r := range cs.Recipes {
		out[i] = r.ID
	}
	return out
}

// Selector 候選篩選器
type Selector struct {
	catalog catalog.Catalog
	tax     *taxonomy.Taxonomy
	cfg     Config
}

// NewSelector 創建候選篩選器
func NewSelector(cat catalog.Catalog, tax *taxonomy.Taxonomy, cfg Config) *Selector {
	return &Selector{catalog: cat, tax: tax, cfg: cfg}
}

// Select 依限制從目錄取得候選集
//
// 同樣的檔案與目錄狀態永遠得到同樣的候選集（含順序）。
// 數量不足不是錯誤，由呼叫端決定是否放寬。
func (s *Selector) Select(ctx context.Context, p *profile.TasteProfile, c Constraints, level int) (*CandidateSet, error) {
	if _, ok := s.tax.Canonical(taxonomy.DimDietaryType, c.DietaryType); !ok {
		return nil, fmt.Errorf("select: unknown dietary type %q", c.DietaryType)
	}

	q := catalog.Query{
		Filters: []catalog.TagFilter{
			{Dimension: taxonomy.DimDietaryType, Value: c.DietaryType},
		},
		MaxCookMinutes: c.TimeBudgetMinutes,
		RegionBoost:    p.Regions(),
	}
	if c.AlliumRequiredAbsent {
		q.Filters = append(q.Filters, catalog.TagFilter{Dimension: taxonomy.DimAlliumFree, Value: taxonomy.True})
	}
	if c.MealType != "" {
		q.Filters = append(q.Filters, catalog.TagFilter{Dimension: taxonomy.DimMealType, Value: c.MealType})
	}

	limit := s.cfg.EffectiveCandidateLimit()
	pageSize := 0
	if s.cfg.ScanFactor > 0 {
		pageSize = limit * s.cfg.ScanFactor
	}
	q.Limit = pageSize

	out := make([]catalog.Recipe, 0, limit)
	seen := make(map[string]struct{}, limit)
	// 目錄前段可能多數不合格（禁用食材、重複標題），逐頁掃描直到湊滿或目錄耗盡
	for len(out) < limit {
		found, err := s.catalog.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("select: query catalog: %w", err)
		}
		for i := range found {
			r := &found[i]
			// 目錄實作不可信，硬性限制在程序內再檢查一次
			if checkRecipe(&c, r) != nil {
				continue
			}
			key := r.NormalizedTitle
			if key == "" {
				key = catalog.NormalizeTitle(r.Title)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
		if pageSize == 0 || len(found) < pageSize {
			break
		}
		q.Offset += pageSize
	}

	return newCandidateSet(out, c, level), nil
}

// DetectMealType 依當地時間推測餐別
func DetectMealType(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return taxonomy.MealBreakfast
	case h >= 11 && h < 16:
		return taxonomy.MealLunch
	case h >= 16 && h < 18:
		return taxonomy.MealSnack
	default:
		return taxonomy.MealDinner
	}
}
