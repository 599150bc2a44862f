package app

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"recipe-recommender/internal/core/ai/oracle"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`"recipe_id": "([^"<]+)"`)

// pickAll 選出所有候選，最後兩個列為排除
type pickAll struct{}

func (pickAll) Name() string { return "pick-all" }

func (pickAll) Complete(_ context.Context, req *oracle.Request) (*oracle.Completion, error) {
	var ids []string
	for _, m := range idPattern.FindAllStringSubmatch(req.User, -1) {
		ids = append(ids, m[1])
	}
	type sel struct {
		RecipeID   string  `json:"recipe_id"`
		Confidence float64 `json:"confidence_score"`
		Reasoning  string  `json:"reasoning"`
	}
	type avoid struct {
		RecipeID string `json:"recipe_id"`
		Reason   string `json:"reason"`
	}
	body := struct {
		Recommendations []sel   `json:"recommendations"`
		Avoided         []avoid `json:"avoided"`
	}{}
	for i, id := range ids {
		if i >= len(ids)-2 {
			body.Avoided = append(body.Avoided, avoid{RecipeID: id, Reason: "weaker fit"})
			continue
		}
		body.Recommendations = append(body.Recommendations, sel{RecipeID: id, Confidence: 0.95 - float64(i)*0.01, Reasoning: "fits"})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &oracle.Completion{Content: string(data), Model: "pick-all"}, nil
}

func testAppConfig() *config.Config {
	return &config.Config{
		OpenRouter: config.OpenRouterConfig{MaxTokens: 4000},
		Oracle: config.OracleConfig{
			Backend:        "openrouter",
			AttemptTimeout: 5 * time.Second,
			MaxAttempts:    2,
			Temperature:    0.3,
		},
		Recommend: config.RecommendConfig{
			ScanFactor:            4,
			MinViableCandidates:   10,
			MinResults:            5,
			MaxResults:            15,
			MinAvoided:            2,
			RejectThreshold:       0.75,
			WidenTimeSlackMinutes: 10,
			DescriptionMaxLen:     160,
		},
		Storage: config.StorageConfig{Backend: "memory", FixturePath: "../../configs/fixtures.yaml"},
		Cache:   config.CacheConfig{Enabled: true, Backend: "memory", MaxSize: 10, TTL: time.Minute},
		Queue:   config.QueueConfig{Workers: 2, MaxSize: 10, JobTimeout: 10 * time.Second},
	}
}

func TestRecommendConfig(t *testing.T) {
	cfg := testAppConfig()
	rc := RecommendConfig(cfg)

	assert.Equal(t, 2, rc.MaxOracleAttempts)
	assert.Equal(t, 5*time.Second, rc.OracleAttemptTimeout)
	assert.Equal(t, 4000, rc.MaxTokens)
	assert.Equal(t, 15, rc.MaxResults)
	assert.Equal(t, 30, rc.EffectiveCandidateLimit())
}

func TestNewWithFixtures(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testAppConfig(), WithOracle(pickAll{}))
	require.NoError(t, err)
	defer a.Close()

	n, err := a.Catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	require.NoError(t, a.Ready(ctx))

	res, err := a.Recommender.Recommend(ctx, recommend.Request{UserID: "priya"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(res.Recommendations), 5)
	for _, rec := range res.Recommendations {
		r, err := a.Catalog.Get(ctx, rec.RecipeID)
		require.NoError(t, err)
		assert.True(t, r.HasTag("allium_free", "true"), rec.Title)
		assert.True(t, r.HasTag("dietary_type", "strict-vegetarian"), rec.Title)
		require.NotNil(t, r.CookTimeMinutes)
		assert.LessOrEqual(t, *r.CookTimeMinutes, 40)
	}

	again, err := a.Recommender.Recommend(ctx, recommend.Request{UserID: "priya"})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)

	_, err = a.Recommender.Recommend(ctx, recommend.Request{UserID: "nobody"})
	assert.ErrorIs(t, err, recommend.ErrProfileNotFound)
}

func TestNewWithRedisStorage(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testAppConfig()
	cfg.Storage.Backend = "redis"
	cfg.Cache.Backend = "redis"

	a, err := New(ctx, cfg, WithOracle(pickAll{}), WithRedis(client))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Ready(ctx))
	p, err := a.Profiles.Get(ctx, "arjun")
	require.NoError(t, err)
	assert.Equal(t, "non-vegetarian", p.DietaryType)
	assert.Nil(t, a.Cache)

	mr.Close()
	assert.Error(t, a.Ready(ctx))
}

func TestNewMissingFixture(t *testing.T) {
	cfg := testAppConfig()
	cfg.Storage.FixturePath = "does-not-exist.yaml"
	_, err := New(context.Background(), cfg, WithOracle(pickAll{}))
	assert.Error(t, err)
}
