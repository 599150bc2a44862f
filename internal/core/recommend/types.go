// Package recommend 實作受限食譜推薦流程。
//
// 流程：候選篩選 → 提示詞組裝 → 排序 oracle → 回應解析 → 硬性限制驗證 → 多樣性去重 → 結果組裝。
// oracle 的輸出永遠不被信任為安全依據，所有硬性限制都以目錄標籤重新驗證。
package recommend

import (
	"time"

	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/taxonomy"
)

// Config 推薦流程參數
type Config struct {
	// CandidateLimit 候選上限，0 表示 MaxResults 的兩倍
	CandidateLimit int
	// ScanFactor 向目錄查詢時的放大倍數，預留去重與關鍵字過濾的損耗；0 表示不限
	ScanFactor            int
	MinViableCandidates   int
	MinResults            int
	MaxResults            int
	MinAvoided            int
	RejectThreshold       float64
	WidenTimeSlackMinutes int
	DescriptionMaxLen     int
	AutoMealType          bool

	MaxOracleAttempts    int
	OracleAttemptTimeout time.Duration
	Temperature          float64
	MaxTokens            int
}

// DefaultConfig 預設參數
func DefaultConfig() Config {
	return Config{
		CandidateLimit:        0,
		ScanFactor:            4,
		MinViableCandidates:   10,
		MinResults:            5,
		MaxResults:            15,
		MinAvoided:            2,
		RejectThreshold:       0.75,
		WidenTimeSlackMinutes: 10,
		DescriptionMaxLen:     160,
		AutoMealType:          false,
		MaxOracleAttempts:     2,
		OracleAttemptTimeout:  60 * time.Second,
		Temperature:           0.3,
		MaxTokens:             4000,
	}
}

// EffectiveCandidateLimit 返回實際候選上限
func (c Config) EffectiveCandidateLimit() int {
	if c.CandidateLimit > 0 {
		return c.CandidateLimit
	}
	return 2 * c.MaxResults
}

// Constraints 某一放寬層級下生效的硬性限制
//
// 驗證器以產生候選集的同一份限制重新檢查每個選擇。
type Constraints struct {
	DietaryType          string
	AlliumRequiredAbsent bool
	TimeBudgetMinutes    *int
	ProhibitedTerms      []string
	// MealType 為空表示不篩選餐別
	MealType string
}

// ConstraintsFor 從口味檔案推導嚴格層級的限制
func ConstraintsFor(p *profile.TasteProfile, tax *taxonomy.Taxonomy, mealType string) Constraints {
	terms := append([]string(nil), p.ProhibitedIngredients...)
	if p.DairyFree {
		terms = append(terms, tax.DairyKeywords()...)
	}
	c := Constraints{
		DietaryType:          p.DietaryType,
		AlliumRequiredAbsent: p.AlliumRequiredAbsent,
		ProhibitedTerms:      dedupTerms(terms),
		MealType:             mealType,
	}
	if p.TimeBudgetMinutes != nil {
		v := *p.TimeBudgetMinutes
		c.TimeBudgetMinutes = &v
	}
	return c
}

// WideningPlan 返回由嚴格到寬鬆的限制序列
//
// 層級 0 為嚴格；層級 1 取消餐別篩選；層級 2 將時間預算放寬 slack 分鐘。
// 飲食類型、無蔥蒜與禁用食材永不放寬。
func WideningPlan(base Constraints, slackMinutes int) []Constraints {
	plan := []Constraints{base}
	cur := base
	if cur.MealType != "" {
		cur.MealType = ""
		plan = append(plan, cur)
	}
	if cur.TimeBudgetMinutes != nil && slackMinutes > 0 {
		v := *cur.TimeBudgetMinutes + slackMinutes
		cur.TimeBudgetMinutes = &v
		plan = append(plan, cur)
	}
	return plan
}

func dedupTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Request 單次推薦請求
type Request struct {
	RequestID         string   `json:"request_id,omitempty"`
	UserID            string   `json:"user_id"`
	MealType          string   `json:"meal_type,omitempty"`
	PantryIngredients []string `json:"pantry_ingredients,omitempty"`
}

// Selection oracle 回傳的單一選擇（已通過結構檢查）
type Selection struct {
	RecipeID   string  `json:"recipe_id"`
	Confidence float64 `json:"confidence_score"`
	Strategy   string  `json:"strategy_card,omitempty"`
	Reasoning  string  `json:"reasoning"`
}

// AvoidedOrigin 被排除項目的來源
type AvoidedOrigin string

const (
	OriginOracle    AvoidedOrigin = "oracle"
	OriginValidator AvoidedOrigin = "validator"
	OriginDiversity AvoidedOrigin = "diversity"
)

// Avoided 被排除的候選，只用於日誌與遙測，不對終端使用者顯示
type Avoided struct {
	RecipeID string        `json:"recipe_id"`
	Title    string        `json:"title"`
	Reason   string        `json:"reason"`
	Origin   AvoidedOrigin `json:"origin"`
	Check    Check         `json:"check,omitempty"`
	// OracleReasoning 保留 oracle 原始理由供稽核
	OracleReasoning  string  `json:"oracle_reasoning,omitempty"`
	OracleConfidence float64 `json:"oracle_confidence,omitempty"`
}

// Diagnostics 解析過程中的異常訊號
type Diagnostics struct {
	UnknownIDs        []string `json:"unknown_ids,omitempty"`
	DuplicateIDs      []string `json:"duplicate_ids,omitempty"`
	NonDiscriminating bool     `json:"non_discriminating,omitempty"`
	UniformConfidence bool     `json:"uniform_confidence,omitempty"`
	LegacyArrayFormat bool     `json:"legacy_array_format,omitempty"`
}

// Recommendation 最終推薦項目
type Recommendation struct {
	RecipeID          string  `json:"recipe_id"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	CookTimeMinutes   *int    `json:"cook_time_minutes,omitempty"`
	SourceName        string  `json:"source_name,omitempty"`
	SourceURL         string  `json:"source_url,omitempty"`
	ImageURL          string  `json:"image_url,omitempty"`
	Confidence        float64 `json:"confidence_score"`
	Strategy          string  `json:"strategy_card,omitempty"`
	Reasoning         string  `json:"reasoning"`
	ValidatorApproved bool    `json:"validator_approved"`
}

// Result 推薦結果
type Result struct {
	RequestID       string           `json:"request_id"`
	UserID          string           `json:"user_id"`
	MealType        string           `json:"meal_type,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Avoided         []Avoided        `json:"avoided,omitempty"`
	Diagnostics     Diagnostics      `json:"diagnostics"`
	WideningLevel   int              `json:"widening_level"`
	CandidateCount  int              `json:"candidate_count"`
	Attempts        int              `json:"attempts"`
	Backend         string           `json:"backend,omitempty"`
	CacheHit        bool             `json:"cache_hit,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
