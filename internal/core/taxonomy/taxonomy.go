// Package taxonomy 提供推薦流程共用的標籤詞彙表。
//
// 詞彙表在啟動時載入一次，之後唯讀，並以參數形式傳給候選篩選器與驗證器。
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// 標籤維度
const (
	DimDietaryType     = "dietary_type"
	DimAlliumFree      = "allium_free"
	DimRegionalCuisine = "regional_cuisine"
	DimMealType        = "meal_type"
)

// 飲食類型
const (
	StrictVegetarian   = "strict-vegetarian"
	VegetarianWithEggs = "vegetarian-with-eggs"
	NonVegetarian      = "non-vegetarian"
)

// 餐別
const (
	MealBreakfast = "breakfast"
	MealLunch     = "lunch"
	MealSnack     = "snack"
	MealDinner    = "dinner"
)

// 布林標籤值
const (
	True  = "true"
	False = "false"
)

//go:embed default.yaml
var defaultYAML []byte

// Dimension 單一標籤維度定義
type Dimension struct {
	Name       string            `yaml:"name"`
	MultiValue bool              `yaml:"multi_value"`
	Values     []string          `yaml:"values"`
	Aliases    map[string]string `yaml:"aliases"`

	allowed map[string]struct{}
	aliases map[string]string
}

type document struct {
	Dimensions     []Dimension       `yaml:"dimensions"`
	DairyKeywords  []string          `yaml:"dairy_keywords"`
	MealGuidelines map[string]string `yaml:"meal_guidelines"`
}

// Taxonomy 唯讀標籤詞彙表
type Taxonomy struct {
	dimensions     map[string]*Dimension
	dairyKeywords  []string
	mealGuidelines map[string]string
}

// Default 返回內建詞彙表
func Default() *Taxonomy {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("taxonomy: invalid built-in vocabulary: %v", err))
	}
	return t
}

// Load 從 YAML 檔案載入詞彙表，路徑為空時使用內建詞彙表
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 詞彙表
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := &Taxonomy{
		dimensions:     make(map[string]*Dimension, len(doc.Dimensions)),
		mealGuidelines: make(map[string]string, len(doc.MealGuidelines)),
	}

	for i := range doc.Dimensions {
		d := doc.Dimensions[i]
		if d.Name == "" {
			return nil, fmt.Errorf("parse taxonomy: dimension %d has no name", i)
		}
		if len(d.Values) == 0 {
			return nil, fmt.Errorf("parse taxonomy: dimension %q has no values", d.Name)
		}
		d.allowed = make(map[string]struct{}, len(d.Values))
		for _, v := range d.Values {
			d.allowed[key(v)] = struct{}{}
		}
		d.aliases = make(map[string]string, len(d.Aliases))
		for alias, target := range d.Aliases {
			if _, ok := d.allowed[key(target)]; !ok {
				return nil, fmt.Errorf("parse taxonomy: alias %q of %q points to unknown value %q", alias, d.Name, target)
			}
			d.aliases[key(alias)] = key(target)
		}
		t.dimensions[d.Name] = &d
	}

	for _, required := range []string{DimDietaryType, DimAlliumFree, DimRegionalCuisine, DimMealType} {
		if _, ok := t.dimensions[required]; !ok {
			return nil, fmt.Errorf("parse taxonomy: missing required dimension %q", required)
		}
	}

	for _, kw := range doc.DairyKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			t.dairyKeywords = append(t.dairyKeywords, kw)
		}
	}
	for meal, text := range doc.MealGuidelines {
		t.mealGuidelines[key(meal)] = strings.TrimSpace(text)
	}

	return t, nil
}

// key 統一大小寫與分隔符號
func key(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "_", "-")
	return strings.Join(strings.Fields(v), "-")
}

// Canonical 將標籤值正規化為詞彙表中的標準值
//
// 未知的值返回 false，呼叫端必須視為不符合（fail closed）。
func (t *Taxonomy) Canonical(dimension, value string) (string, bool) {
	d, ok := t.dimensions[dimension]
	if !ok {
		return "", false
	}
	k := key(value)
	if target, ok := d.aliases[k]; ok {
		return target, true
	}
	if _, ok := d.allowed[k]; ok {
		return k, true
	}
	return "", false
}

// Has 判斷維度是否存在
func (t *Taxonomy) Has(dimension string) bool {
	_, ok := t.dimensions[dimension]
	return ok
}

// MultiValue 判斷維度是否允許多個值
func (t *Taxonomy) MultiValue(dimension string) bool {
	d, ok := t.dimensions[dimension]
	return ok && d.MultiValue
}

// Values 返回維度的所有標準值（已排序）
func (t *Taxonomy) Values(dimension string) []string {
	d, ok := t.dimensions[dimension]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(d.allowed))
	for v := range d.allowed {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Dimensions 返回所有維度名稱（已排序）
func (t *Taxonomy) Dimensions() []string {
	out := make([]string, 0, len(t.dimensions))
	for name := range t.dimensions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DairyKeywords 返回乳製品關鍵字
func (t *Taxonomy) DairyKeywords() []string {
	return append([]string(nil), t.dairyKeywords...)
}

// MealGuideline 返回餐別說明文字
func (t *Taxonomy) MealGuideline(meal string) string {
	return t.mealGuidelines[key(meal)]
}
