// Package catalog 提供可依標籤查詢的食譜目錄。
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"recipe-recommender/internal/core/taxonomy"
)

// ErrNotFound 食譜不存在
var ErrNotFound = errors.New("catalog: recipe not found")

// Tag 食譜標籤（維度 + 值），附帶來源與信心度
type Tag struct {
	Dimension  string  `json:"dimension" yaml:"dimension"`
	Value      string  `json:"value" yaml:"value"`
	Source     string  `json:"source,omitempty" yaml:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Recipe 食譜記錄
//
// 由 Catalog 返回的記錄為唯讀快照。
type Recipe struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	NormalizedTitle string    `json:"normalized_title"`
	Description     string    `json:"description,omitempty"`
	CookTimeMinutes *int      `json:"cook_time_minutes,omitempty"`
	Servings        int       `json:"servings,omitempty"`
	SourceName      string    `json:"source_name,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	Tags            []Tag     `json:"tags,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TagValues 返回某維度的所有標籤值
func (r *Recipe) TagValues(dimension string) []string {
	var out []string
	for _, t := range r.Tags {
		if t.Dimension == dimension {
			out = append(out, t.Value)
		}
	}
	return out
}

// TagValue 返回某維度的第一個標籤值
func (r *Recipe) TagValue(dimension string) (string, bool) {
	for _, t := range r.Tags {
		if t.Dimension == dimension {
			return t.Value, true
		}
	}
	return "", false
}

// HasTag 判斷是否帶有指定標籤
func (r *Recipe) HasTag(dimension, value string) bool {
	for _, t := range r.Tags {
		if t.Dimension == dimension && t.Value == value {
			return true
		}
	}
	return false
}

// Canonicalize 以詞彙表正規化標籤並補上正規化標題
//
// 詞彙表無法辨識的值原樣保留（小寫），這些值永遠不會匹配任何篩選條件。
func Canonicalize(tax *taxonomy.Taxonomy, r Recipe) Recipe {
	tags := make([]Tag, 0, len(r.Tags))
	seen := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		if v, ok := tax.Canonical(t.Dimension, t.Value); ok {
			t.Value = v
		} else {
			t.Value = strings.ToLower(strings.TrimSpace(t.Value))
		}
		k := t.Dimension + "\x00" + t.Value
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		tags = append(tags, t)
	}
	r.Tags = tags
	if r.NormalizedTitle == "" {
		r.NormalizedTitle = NormalizeTitle(r.Title)
	}
	return r
}

// TagFilter 精確標籤篩選條件
type TagFilter struct {
	Dimension string
	Value     string
}

// Query 目錄查詢條件
type Query struct {
	// Filters 以 AND 組合，維度與值皆須精確匹配
	Filters []TagFilter
	// MaxCookMinutes 不為 nil 時排除宣告烹飪時間超過上限的食譜，未宣告者保留
	MaxCookMinutes *int
	// RegionBoost 依序優先的地方菜系
	RegionBoost []string
	// Offset 排序後略過的筆數，供分頁使用
	Offset int
	// Limit 0 表示不限
	Limit int
}

// Catalog 食譜目錄查詢介面
type Catalog interface {
	Query(ctx context.Context, q Query) ([]Recipe, error)
	Get(ctx context.Context, id string) (Recipe, error)
}

// Store 可寫入的食譜目錄
type Store interface {
	Catalog
	Put(ctx context.Context, recipes ...Recipe) error
	Count(ctx context.Context) (int, error)
}
