// Package profile 定義使用者口味檔案與其存取介面。
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"recipe-recommender/internal/core/taxonomy"
)

// ErrNotFound 口味檔案不存在
var ErrNotFound = errors.New("profile: not found")

// 信心度來源
const (
	ConfidenceExplicit   = 0.95
	ConfidenceDiscovered = 0.60
	ConfidenceUnknown    = 0.50
)

// 濃郁程度
const (
	RichnessLight  = "light"
	RichnessMedium = "medium"
	RichnessRich   = "rich"
)

// RegionalAffinity 地方菜系偏好
type RegionalAffinity struct {
	Region     string  `json:"region" yaml:"region" validate:"required"`
	Primary    bool    `json:"primary" yaml:"primary"`
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

// DiscoveredPreference 由互動推導出的偏好
type DiscoveredPreference struct {
	Affinity   float64 `json:"affinity" yaml:"affinity" validate:"gte=0,lte=1"`
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

// TasteProfile 使用者口味檔案
//
// 硬性限制：DietaryType、AlliumRequiredAbsent、DairyFree、ProhibitedIngredients、TimeBudgetMinutes。
// 其餘欄位只用於排序偏好，永遠不會排除食譜。
type TasteProfile struct {
	UserID string `json:"user_id" yaml:"user_id" validate:"required"`

	DietaryType           string   `json:"dietary_type" yaml:"dietary_type" validate:"required"`
	AlliumRequiredAbsent  bool     `json:"allium_required_absent" yaml:"allium_required_absent"`
	DairyFree             bool     `json:"dairy_free,omitempty" yaml:"dairy_free"`
	ProhibitedIngredients []string `json:"prohibited_ingredients,omitempty" yaml:"prohibited_ingredients" validate:"dive,required"`
	TimeBudgetMinutes     *int     `json:"time_budget_minutes,omitempty" yaml:"time_budget_minutes" validate:"omitempty,gt=0"`

	RegionalAffinities         []RegionalAffinity `json:"regional_affinities,omitempty" yaml:"regional_affinities" validate:"dive"`
	HeatLevel                  int                `json:"heat_level,omitempty" yaml:"heat_level" validate:"omitempty,min=1,max=5"`
	GravyPreferences           []string           `json:"gravy_preferences,omitempty" yaml:"gravy_preferences"`
	Richness                   string             `json:"richness,omitempty" yaml:"richness" validate:"omitempty,oneof=light medium rich"`
	SacredDishes               []string           `json:"sacred_dishes,omitempty" yaml:"sacred_dishes"`
	HouseholdMultigenerational bool               `json:"household_multigenerational,omitempty" yaml:"household_multigenerational"`

	DiscoveredPreferences map[string]DiscoveredPreference `json:"discovered_preferences,omitempty" yaml:"discovered_preferences" validate:"dive"`
	ConfidenceOverall     float64                         `json:"confidence_overall" yaml:"confidence_overall" validate:"gte=0,lte=1"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Normalize 正規化檔案內容並計算整體信心度
//
// 飲食類型必須能對應到詞彙表中的唯一值，否則返回錯誤，不做任何猜測。
func (p *TasteProfile) Normalize(tax *taxonomy.Taxonomy) error {
	diet, ok := tax.Canonical(taxonomy.DimDietaryType, p.DietaryType)
	if !ok {
		return fmt.Errorf("profile %s: unknown dietary type %q", p.UserID, p.DietaryType)
	}
	p.DietaryType = diet

	p.ProhibitedIngredients = lowerSet(p.ProhibitedIngredients)
	p.GravyPreferences = lowerSet(p.GravyPreferences)

	regions := make([]RegionalAffinity, 0, len(p.RegionalAffinities))
	seen := make(map[string]struct{}, len(p.RegionalAffinities))
	for _, ra := range p.RegionalAffinities {
		if v, ok := tax.Canonical(taxonomy.DimRegionalCuisine, ra.Region); ok {
			ra.Region = v
		} else {
			ra.Region = strings.ToLower(strings.TrimSpace(ra.Region))
		}
		if ra.Region == "" {
			continue
		}
		if _, dup := seen[ra.Region]; dup {
			continue
		}
		seen[ra.Region] = struct{}{}
		if ra.Confidence == 0 {
			if ra.Primary {
				ra.Confidence = ConfidenceExplicit
			} else {
				ra.Confidence = ConfidenceDiscovered
			}
		}
		regions = append(regions, ra)
	}
	// 主要菜系優先，其次依信心度，保持原始順序作為最終依據
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Primary != regions[j].Primary {
			return regions[i].Primary
		}
		return regions[i].Confidence > regions[j].Confidence
	})
	p.RegionalAffinities = regions

	p.Richness = strings.ToLower(strings.TrimSpace(p.Richness))
	if p.Richness == "" {
		p.Richness = RichnessMedium
	}

	p.ConfidenceOverall = p.ComputeConfidence()
	return nil
}

// ComputeConfidence 計算整體信心度（明確欄位、地方菜系、推導偏好的加權平均）
func (p *TasteProfile) ComputeConfidence() float64 {
	var total float64
	var n int

	explicit := []bool{
		p.DietaryType != "",
		len(p.GravyPreferences) > 0,
		p.HeatLevel > 0,
		p.Richness != "",
		p.TimeBudgetMinutes != nil,
	}
	for _, set := range explicit {
		if set {
			total += ConfidenceExplicit
			n++
		}
	}

	for _, ra := range p.RegionalAffinities {
		total += ra.Confidence
		n++
	}

	for _, dp := range p.DiscoveredPreferences {
		total += dp.Confidence
		n++
	}

	if n == 0 {
		return ConfidenceUnknown
	}
	return total / float64(n)
}

// Regions 返回地方菜系（依優先順序）
func (p *TasteProfile) Regions() []string {
	out := make([]string, 0, len(p.RegionalAffinities))
	for _, ra := range p.RegionalAffinities {
		out = append(out, ra.Region)
	}
	return out
}

// EffectiveHeatLevel 多代同堂家庭辣度降一級
func (p *TasteProfile) EffectiveHeatLevel() int {
	h := p.HeatLevel
	if h > 1 && p.HouseholdMultigenerational {
		h--
	}
	return h
}

// Clone 深拷貝，作為單次請求的唯讀快照
func (p *TasteProfile) Clone() *TasteProfile {
	c := *p
	c.ProhibitedIngredients = append([]string(nil), p.ProhibitedIngredients...)
	c.GravyPreferences = append([]string(nil), p.GravyPreferences...)
	c.SacredDishes = append([]string(nil), p.SacredDishes...)
	c.RegionalAffinities = append([]RegionalAffinity(nil), p.RegionalAffinities...)
	if p.TimeBudgetMinutes != nil {
		v := *p.TimeBudgetMinutes
		c.TimeBudgetMinutes = &v
	}
	if p.DiscoveredPreferences != nil {
		c.DiscoveredPreferences = make(map[string]DiscoveredPreference, len(p.DiscoveredPreferences))
		for k, v := range p.DiscoveredPreferences {
			c.DiscoveredPreferences[k] = v
		}
	}
	return &c
}

// lowerSet 小寫、去空白、去重，保留原始順序
func lowerSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
