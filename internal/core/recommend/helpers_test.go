package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"recipe-recommender/internal/core/ai/oracle"
	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/taxonomy"
)

func intPtr(v int) *int { return &v }

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// recipe 建立帶標籤的測試食譜；tags 依 dimension, value 成對給出
func recipe(id, title string, cook *int, tags ...string) catalog.Recipe {
	r := catalog.Recipe{
		ID:              id,
		Title:           title,
		NormalizedTitle: catalog.NormalizeTitle(title),
		CookTimeMinutes: cook,
		UpdatedAt:       testTime,
	}
	for i := 0; i+1 < len(tags); i += 2 {
		r.Tags = append(r.Tags, catalog.Tag{Dimension: tags[i], Value: tags[i+1]})
	}
	return r
}

// vegRecipes n 道全素、無蔥蒜、20 分鐘的食譜
func vegRecipes(prefix string, n int, extra ...string) []catalog.Recipe {
	out := make([]catalog.Recipe, 0, n)
	for i := 0; i < n; i++ {
		tags := append([]string{
			taxonomy.DimDietaryType, taxonomy.StrictVegetarian,
			taxonomy.DimAlliumFree, taxonomy.True,
		}, extra...)
		out = append(out, recipe(fmt.Sprintf("%s%02d", prefix, i), fmt.Sprintf("%s dish %d", prefix, i), intPtr(20), tags...))
	}
	return out
}

func jainProfile(userID string) *profile.TasteProfile {
	return &profile.TasteProfile{
		UserID:               userID,
		DietaryType:          taxonomy.StrictVegetarian,
		AlliumRequiredAbsent: true,
		TimeBudgetMinutes:    intPtr(30),
		RegionalAffinities: []profile.RegionalAffinity{
			{Region: "gujarati", Primary: true},
		},
		HeatLevel: 2,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OracleAttemptTimeout = 2 * time.Second
	return cfg
}

type wireSel struct {
	RecipeID   string  `json:"recipe_id"`
	Confidence float64 `json:"confidence_score"`
	Strategy   string  `json:"strategy_card,omitempty"`
	Reasoning  string  `json:"reasoning"`
}

type wireAvoid struct {
	RecipeID string `json:"recipe_id"`
	Title    string `json:"recipe_title"`
	Reason   string `json:"reason"`
}

// oracleJSON 組出 oracle 回應
func oracleJSON(sel []wireSel, avoided []wireAvoid) string {
	data, err := json.Marshal(map[string]any{"recommendations": sel, "avoided": avoided})
	if err != nil {
		panic(err)
	}
	return string(data)
}

// selectIDs 依序給出遞減的信心度
func selectIDs(ids ...string) []wireSel {
	out := make([]wireSel, len(ids))
	for i, id := range ids {
		out[i] = wireSel{
			RecipeID:   id,
			Confidence: 0.97 - float64(i)*0.01,
			Strategy:   "high_confidence_match",
			Reasoning:  "✓ Constraints: ok ✓ Fit: region ⚠ Trade-offs: None",
		}
	}
	return out
}

var candidateIDPattern = regexp.MustCompile(`"recipe_id": "([^"<]+)"`)

// promptCandidateIDs 從提示詞取出候選 ID
func promptCandidateIDs(user string) []string {
	var ids []string
	for _, m := range candidateIDPattern.FindAllStringSubmatch(user, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// stubOracle 確定性的測試 oracle
type stubOracle struct {
	mu      sync.Mutex
	calls   int
	prompts []*oracle.Request
	respond func(call int, req *oracle.Request) (string, error)
}

func (s *stubOracle) Name() string { return "stub" }

func (s *stubOracle) Complete(ctx context.Context, req *oracle.Request) (*oracle.Completion, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.prompts = append(s.prompts, req)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := s.respond(call, req)
	if err != nil {
		return nil, err
	}
	return &oracle.Completion{Content: content, Model: "stub", PromptTokens: 100, CompletionTokens: 50}, nil
}

func (s *stubOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// echoOracle 選出所有候選並排除最後兩個
func echoOracle() *stubOracle {
	return &stubOracle{respond: func(_ int, req *oracle.Request) (string, error) {
		ids := promptCandidateIDs(req.User)
		var avoided []wireAvoid
		if len(ids) > 2 {
			for _, id := range ids[len(ids)-2:] {
				avoided = append(avoided, wireAvoid{RecipeID: id, Reason: "too similar"})
			}
			ids = ids[:len(ids)-2]
		}
		return oracleJSON(selectIDs(ids...), avoided), nil
	}}
}

type memoryResultCache struct {
	mu    sync.Mutex
	items map[string]*Result
}

func newMemoryResultCache() *memoryResultCache {
	return &memoryResultCache{items: map[string]*Result{}}
}

func (c *memoryResultCache) Get(_ context.Context, key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[key]
	return r, ok
}

func (c *memoryResultCache) Set(_ context.Context, key string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = r
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (p *recordingPublisher) Publish(_ context.Context, o Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}
