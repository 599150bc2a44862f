package catalog

import (
	"sort"

	"recipe-recommender/internal/core/taxonomy"
)

// matches 判斷食譜是否通過所有篩選條件
func matches(r *Recipe, q *Query) bool {
	for _, f := range q.Filters {
		if !r.HasTag(f.Dimension, f.Value) {
			return false
		}
	}
	if q.MaxCookMinutes != nil && r.CookTimeMinutes != nil && *r.CookTimeMinutes > *q.MaxCookMinutes {
		return false
	}
	return true
}

// regionRank 返回第一個匹配的地方菜系順位，無匹配時返回 len(boost)
func regionRank(r *Recipe, boost []string) int {
	best := len(boost)
	for _, v := range r.TagValues(taxonomy.DimRegionalCuisine) {
		for i, b := range boost {
			if v == b && i < best {
				best = i
			}
		}
	}
	return best
}

// orderAndLimit 依地方菜系加權、更新時間（新到舊）、ID 排序後分頁截斷
func orderAndLimit(recipes []Recipe, q *Query) []Recipe {
	ranks := make(map[string]int, len(recipes))
	for i := range recipes {
		ranks[recipes[i].ID] = regionRank(&recipes[i], q.RegionBoost)
	}

	sort.SliceStable(recipes, func(i, j int) bool {
		a, b := &recipes[i], &recipes[j]
		if ra, rb := ranks[a.ID], ranks[b.ID]; ra != rb {
			return ra < rb
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(recipes) {
			return nil
		}
		recipes = recipes[q.Offset:]
	}
	if q.Limit > 0 && len(recipes) > q.Limit {
		recipes = recipes[:q.Limit]
	}
	return recipes
}
