package recommend

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/taxonomy"
)

// RubricBand 信心度分級
type RubricBand struct {
	Min      float64
	Max      float64
	Label    string
	Criteria string
}

// Rubric 傳給 oracle 的信心度分級；不在本地重新推導
var Rubric = []RubricBand{
	{0.95, 1.00, "perfect_match", "all hard constraints satisfied AND regional or sacred-dish match AND 4+ soft-preference matches"},
	{0.85, 0.94, "strong_match", "all hard constraints satisfied AND 3+ soft-preference matches"},
	{0.75, 0.84, "good_match", "all hard constraints satisfied AND 2+ soft-preference matches"},
}

// promptTags oracle 可以參考的標籤維度
var promptTags = []string{
	taxonomy.DimDietaryType,
	taxonomy.DimAlliumFree,
	taxonomy.DimRegionalCuisine,
	taxonomy.DimMealType,
}

const systemPrompt = `You are an expert Indian recipe curator. You rank pre-filtered candidate recipes for one user.
You only select recipes from the supplied candidate list, you never invent recipe ids, and you answer with a single JSON object and nothing else.`

// Prompt oracle 請求內容
type Prompt struct {
	System string
	User   string
}

// PromptOptions 可選的請求上下文
type PromptOptions struct {
	MealType          string
	PantryIngredients []string
	// Correction 重試時附上的前次失敗原因
	Correction string
}

// PromptBuilder 提示詞組裝器
type PromptBuilder struct {
	tax *taxonomy.Taxonomy
	cfg Config
}

// NewPromptBuilder 創建提示詞組裝器
func NewPromptBuilder(tax *taxonomy.Taxonomy, cfg Config) *PromptBuilder {
	return &PromptBuilder{tax: tax, cfg: cfg}
}

type profileSummary struct {
	HardConstraints struct {
		DietaryType           string   `json:"dietary_type"`
		AlliumRequiredAbsent  bool     `json:"allium_required_absent"`
		DairyFree             bool     `json:"dairy_free,omitempty"`
		ProhibitedIngredients []string `json:"prohibited_ingredients,omitempty"`
		TimeBudgetMinutes     *int     `json:"time_budget_minutes,omitempty"`
	} `json:"hard_constraints"`
	Preferences struct {
		PrimaryRegions   []string `json:"primary_regions,omitempty"`
		SecondaryRegions []string `json:"secondary_regions,omitempty"`
		HeatLevel        int      `json:"heat_level,omitempty"`
		GravyPreferences []string `json:"gravy_preferences,omitempty"`
		Richness         string   `json:"richness,omitempty"`
		SacredDishes     []string `json:"sacred_dishes,omitempty"`
		Discovered       []string `json:"discovered_likes,omitempty"`
	} `json:"preferences"`
}

type promptTag struct {
	Dimension string   `json:"dimension"`
	Values    []string `json:"values"`
}

type promptCandidate struct {
	RecipeID        string      `json:"recipe_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	CookTimeMinutes *int        `json:"cook_time_minutes,omitempty"`
	Tags            []promptTag `json:"tags"`
}

func summarize(p *profile.TasteProfile, c Constraints) profileSummary {
	var s profileSummary
	s.HardConstraints.DietaryType = c.DietaryType
	s.HardConstraints.AlliumRequiredAbsent = c.AlliumRequiredAbsent
	s.HardConstraints.DairyFree = p.DairyFree
	s.HardConstraints.ProhibitedIngredients = p.ProhibitedIngredients
	s.HardConstraints.TimeBudgetMinutes = c.TimeBudgetMinutes

	for _, ra := range p.RegionalAffinities {
		if ra.Primary {
			s.Preferences.PrimaryRegions = append(s.Preferences.PrimaryRegions, ra.Region)
		} else {
			s.Preferences.SecondaryRegions = append(s.Preferences.SecondaryRegions, ra.Region)
		}
	}
	s.Preferences.HeatLevel = p.EffectiveHeatLevel()
	s.Preferences.GravyPreferences = p.GravyPreferences
	s.Preferences.Richness = p.Richness
	s.Preferences.SacredDishes = p.SacredDishes

	// map 迭代順序不固定，依鍵排序後輸出
	keys := make([]string, 0, len(p.DiscoveredPreferences))
	for k, dp := range p.DiscoveredPreferences {
		if dp.Affinity >= 0.6 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	s.Preferences.Discovered = keys
	return s
}

func (b *PromptBuilder) candidate(r *catalog.Recipe) promptCandidate {
	pc := promptCandidate{
		RecipeID:        r.ID,
		Title:           r.Title,
		Description:     truncateRunes(r.Description, b.cfg.DescriptionMaxLen),
		CookTimeMinutes: r.CookTimeMinutes,
	}
	for _, dim := range promptTags {
		if vals := r.TagValues(dim); len(vals) > 0 {
			pc.Tags = append(pc.Tags, promptTag{Dimension: dim, Values: vals})
		}
	}
	return pc
}

// Build 組裝 oracle 請求
func (b *PromptBuilder) Build(p *profile.TasteProfile, cs *CandidateSet, opts PromptOptions) (Prompt, error) {
	summary, err := json.MarshalIndent(summarize(p, cs.Constraints), "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("marshal profile summary: %w", err)
	}
	cands := make([]promptCandidate, 0, cs.Len())
	for i := range cs.Recipes {
		cands = append(cands, b.candidate(&cs.Recipes[i]))
	}
	candJSON, err := json.MarshalIndent(cands, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("marshal candidates: %w", err)
	}

	minSel := b.cfg.MinResults
	maxSel := b.cfg.MaxResults
	if maxSel > cs.Len() {
		maxSel = cs.Len()
	}
	if minSel > maxSel {
		minSel = maxSel
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Select %d-%d recipes", minSel, maxSel)
	if opts.MealType != "" {
		fmt.Fprintf(&sb, " for %s", strings.ToUpper(opts.MealType))
	}
	sb.WriteString(" that fit this user's taste profile.\n\n")

	sb.WriteString("## USER TASTE PROFILE\n\n")
	sb.Write(summary)
	sb.WriteString("\n\n")

	if opts.MealType != "" {
		if g := b.tax.MealGuideline(opts.MealType); g != "" {
			fmt.Fprintf(&sb, "## MEAL CONTEXT: %s\n\n%s\n\n", strings.ToUpper(opts.MealType), g)
		}
	}

	if len(opts.PantryIngredients) > 0 {
		fmt.Fprintf(&sb, "## PANTRY\n\nThe user has these ingredients at hand; prefer recipes that use them: %s\n\n",
			strings.Join(opts.PantryIngredients, ", "))
	}

	fmt.Fprintf(&sb, "## CANDIDATE RECIPES (%d, pre-filtered for hard constraints)\n\n", cs.Len())
	sb.Write(candJSON)
	sb.WriteString("\n\n")

	sb.WriteString("## CONFIDENCE CALIBRATION\n\nUse this exact rubric for confidence_score:\n")
	for _, band := range Rubric {
		fmt.Fprintf(&sb, "- %.2f-%.2f (%s): %s\n", band.Min, band.Max, band.Label, band.Criteria)
	}
	fmt.Fprintf(&sb, "- below %.2f: REJECT. Do not return it as a recommendation; list it under \"avoided\" instead.\n\n", b.cfg.RejectThreshold)

	sb.WriteString(`## REASONING FORMAT

Every reasoning string must follow: "✓ Constraints: ... ✓ Fit: ... ⚠ Trade-offs: ..."
- ✓ Constraints: which hard constraints the tags show are satisfied
- ✓ Fit: concrete soft-preference matches (region, heat, gravy, richness, sacred dishes)
- ⚠ Trade-offs: honest mismatches, or "None"
Descriptive text without analysis is not acceptable.

## ANTI-REPETITION

- Each recipe must be unique; never return two variants of the same dish
- Avoid several similar dishes (for example three dal variations)
- Use only recipe_id values that appear in the candidate list

`)

	fmt.Fprintf(&sb, `## OUTPUT FORMAT

Return ONLY this JSON object, sorted by confidence_score descending:
{
  "recommendations": [
    {
      "recipe_id": "<id from candidates>",
      "confidence_score": 0.96,
      "strategy_card": "high_confidence_match",
      "reasoning": "✓ Constraints: ... ✓ Fit: ... ⚠ Trade-offs: None"
    }
  ],
  "avoided": [
    {"recipe_id": "<id from candidates>", "recipe_title": "<title>", "reason": "<one line>"}
  ]
}
"recommendations" must contain %d-%d entries. "avoided" must contain at least %d candidates you deliberately rejected, each with a one-line reason.
`, minSel, maxSel, b.cfg.MinAvoided)

	if opts.Correction != "" {
		fmt.Fprintf(&sb, "\n## CORRECTION\n\nYour previous answer was rejected: %s. Follow the output format exactly.\n", opts.Correction)
	}

	return Prompt{System: systemPrompt, User: sb.String()}, nil
}

// truncateRunes 依字元截斷
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= n {
		return string(rs)
	}
	return strings.TrimSpace(string(rs[:n])) + "…"
}
