package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"recipe-recommender/internal/core/ai/oracle"
	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/taxonomy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	tax       *taxonomy.Taxonomy
	catalog   *catalog.MemoryCatalog
	profiles  *profile.MemoryStore
	oracle    *stubOracle
	cache     *memoryResultCache
	publisher *recordingPublisher
	svc       *Service
}

func newServiceFixture(t *testing.T, oc *stubOracle, recipes []catalog.Recipe, profiles ...*profile.TasteProfile) *serviceFixture {
	t.Helper()
	tax := taxonomy.Default()
	f := &serviceFixture{
		tax:       tax,
		catalog:   catalog.NewMemoryCatalog(tax, recipes...),
		profiles:  profile.NewMemoryStore(profiles...),
		oracle:    oc,
		cache:     newMemoryResultCache(),
		publisher: &recordingPublisher{},
	}
	f.svc = NewService(f.profiles, f.catalog, tax, oc, testConfig(),
		WithCache(f.cache),
		WithPublisher(f.publisher),
		WithClock(func() time.Time { return testTime }),
	)
	return f
}

func resultIDs(res *Result) []string {
	ids := make([]string, len(res.Recommendations))
	for i, r := range res.Recommendations {
		ids[i] = r.RecipeID
	}
	return ids
}

func TestRecommendSuccess(t *testing.T) {
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 20, taxonomy.DimRegionalCuisine, "gujarati"), jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{RequestID: "req-1", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "req-1", res.RequestID)
	assert.Len(t, res.Recommendations, 15)
	assert.Equal(t, "v00", res.Recommendations[0].RecipeID)
	assert.Equal(t, "v dish 0", res.Recommendations[0].Title)
	assert.Equal(t, 20, res.CandidateCount)
	assert.Equal(t, 0, res.WideningLevel)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "stub", res.Backend)
	assert.Len(t, res.Avoided, 2)
	assert.Equal(t, testTime, res.GeneratedAt)

	require.Len(t, f.publisher.outcomes, 1)
	o := f.publisher.outcomes[0]
	assert.Equal(t, OutcomeSuccess, o.Outcome)
	assert.Equal(t, resultIDs(res), o.Recommended)
	assert.Len(t, o.Avoided, 2)
}

func TestRecommendUsesCache(t *testing.T) {
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 20), jainProfile("u1"))

	first, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	second, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.oracle.Calls())
	assert.True(t, second.CacheHit)
	assert.False(t, first.CacheHit)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, resultIDs(first), resultIDs(second))

	// 不同食材視為不同請求
	_, err = f.svc.Recommend(context.Background(), Request{UserID: "u1", PantryIngredients: []string{"lauki"}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.oracle.Calls())
}

func TestRecommendRevalidatesCachedResult(t *testing.T) {
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 20), jainProfile("u1"))
	ctx := context.Background()

	first, err := f.svc.Recommend(ctx, Request{UserID: "u1"})
	require.NoError(t, err)
	require.Contains(t, resultIDs(first), "v00")

	// 快取期間食譜被重新標記為含蔥蒜
	require.NoError(t, f.catalog.Put(ctx, recipe("v00", "v dish 0", intPtr(20),
		taxonomy.DimDietaryType, taxonomy.StrictVegetarian,
		taxonomy.DimAlliumFree, taxonomy.False,
	)))

	second, err := f.svc.Recommend(ctx, Request{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.NotContains(t, resultIDs(second), "v00")
	assert.Equal(t, 2, f.oracle.Calls())

	third, err := f.svc.Recommend(ctx, Request{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.Equal(t, resultIDs(second), resultIDs(third))
}

func TestRecommendRetriesMalformedOnce(t *testing.T) {
	oc := &stubOracle{respond: func(call int, req *oracle.Request) (string, error) {
		ids := promptCandidateIDs(req.User)
		sel := selectIDs(ids...)
		if call == 0 {
			sel[0].Confidence = 1.4
		}
		return oracleJSON(sel, []wireAvoid{{RecipeID: ids[0], Reason: "a"}, {RecipeID: ids[1], Reason: "b"}}), nil
	}}
	f := newServiceFixture(t, oc, vegRecipes("v", 12), jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, oc.Calls())
	assert.NotContains(t, oc.prompts[0].User, "## CORRECTION")
	assert.Contains(t, oc.prompts[1].User, "## CORRECTION")
	assert.Contains(t, oc.prompts[1].User, "1.4")
}

func TestRecommendMalformedTwiceFails(t *testing.T) {
	oc := &stubOracle{respond: func(int, *oracle.Request) (string, error) {
		return `{"recommendations": [{"recipe_id": "v00", "confidence_score": 1.4, "reasoning": "x"}]}`, nil
	}}
	f := newServiceFixture(t, oc, vegRecipes("v", 12), jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrOracleResponseMalformed)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Attempts)
	assert.Equal(t, 2, oc.Calls())
	assert.Equal(t, OutcomeOracleMalformed, f.publisher.outcomes[0].Outcome)
}

func TestRecommendTransportRetry(t *testing.T) {
	boom := errors.New("connection reset")
	oc := &stubOracle{respond: func(int, *oracle.Request) (string, error) { return "", boom }}
	f := newServiceFixture(t, oc, vegRecipes("v", 12), jainProfile("u1"))

	_, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.ErrorIs(t, err, ErrOracleTransport)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, oc.Calls())
	assert.Equal(t, OutcomeOracleTransport, OutcomeOf(err))
}

func TestRecommendNoRetryWhenCircuitOpen(t *testing.T) {
	oc := &stubOracle{respond: func(int, *oracle.Request) (string, error) {
		return "", fmt.Errorf("%w: open state", oracle.ErrCircuitOpen)
	}}
	f := newServiceFixture(t, oc, vegRecipes("v", 12), jainProfile("u1"))

	_, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.ErrorIs(t, err, ErrOracleTransport)
	assert.Equal(t, 1, oc.Calls())
}

func TestRecommendCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	oc := &stubOracle{respond: func(int, *oracle.Request) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	f := newServiceFixture(t, oc, vegRecipes("v", 12), jainProfile("u1"))

	res, err := f.svc.Recommend(ctx, Request{UserID: "u1"})
	assert.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, oc.Calls())
	assert.Empty(t, f.cache.items)
	require.Len(t, f.publisher.outcomes, 1)
	assert.Equal(t, OutcomeCanceled, f.publisher.outcomes[0].Outcome)
}

func TestRecommendInsufficientCandidates(t *testing.T) {
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 3), jainProfile("u1"))

	_, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.ErrorIs(t, err, ErrInsufficientCandidates)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageSelect, pe.Stage)
	assert.Equal(t, 3, pe.Got)
	assert.Equal(t, 0, f.oracle.Calls())
}

func TestRecommendInsufficientValidated(t *testing.T) {
	oc := &stubOracle{respond: func(_ int, req *oracle.Request) (string, error) {
		sel := selectIDs(promptCandidateIDs(req.User)...)
		for i := 3; i < len(sel); i++ {
			sel[i].Confidence = 0.5
		}
		return oracleJSON(sel, nil), nil
	}}
	f := newServiceFixture(t, oc, vegRecipes("v", 20), jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrInsufficientValidatedResults)
	assert.Equal(t, 1, oc.Calls())
	assert.Empty(t, f.cache.items)
	assert.Len(t, f.publisher.outcomes[0].Avoided, 17)
}

func TestRecommendDropsUnknownIDs(t *testing.T) {
	oc := &stubOracle{respond: func(_ int, req *oracle.Request) (string, error) {
		ids := append([]string{"ghost"}, promptCandidateIDs(req.User)...)
		return oracleJSON(selectIDs(ids...), []wireAvoid{{RecipeID: "phantom", Reason: "x"}}), nil
	}}
	f := newServiceFixture(t, oc, vegRecipes("v", 12), jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(res), "ghost")
	for _, a := range res.Avoided {
		assert.NotEqual(t, "ghost", a.RecipeID)
		assert.NotEqual(t, "phantom", a.RecipeID)
	}
	assert.ElementsMatch(t, []string{"ghost", "phantom"}, res.Diagnostics.UnknownIDs)
}

func TestRecommendWidensMealType(t *testing.T) {
	recipes := vegRecipes("d", 2, taxonomy.DimMealType, taxonomy.MealDinner)
	recipes = append(recipes, vegRecipes("x", 12)...)
	f := newServiceFixture(t, echoOracle(), recipes, jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", MealType: "supper"})
	require.NoError(t, err)
	assert.Equal(t, taxonomy.MealDinner, res.MealType)
	assert.Equal(t, 1, res.WideningLevel)
	assert.Equal(t, 14, res.CandidateCount)
}

func TestRecommendWidensTimeBudget(t *testing.T) {
	recipes := vegRecipes("s", 12)
	for i := range recipes {
		recipes[i].CookTimeMinutes = intPtr(35)
	}
	f := newServiceFixture(t, echoOracle(), recipes, jainProfile("u1"))

	res, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.WideningLevel)
	assert.Len(t, res.Recommendations, 10)
}

func TestRecommendRequestErrors(t *testing.T) {
	bad := jainProfile("bad")
	bad.DietaryType = "fruitarian"
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 12), jainProfile("u1"), bad)

	_, err := f.svc.Recommend(context.Background(), Request{UserID: "nobody"})
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = f.svc.Recommend(context.Background(), Request{UserID: "u1", MealType: "brunch"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Recommend(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Recommend(context.Background(), Request{UserID: "bad"})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	assert.Equal(t, 0, f.oracle.Calls())
}

func TestRecommendDoesNotMutateStoredProfile(t *testing.T) {
	p := jainProfile("u1")
	p.DietaryType = "pure_veg"
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 12), p)

	_, err := f.svc.Recommend(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	stored, err := f.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "pure_veg", stored.DietaryType)
}

func TestRecommendConcurrentUsers(t *testing.T) {
	var profiles []*profile.TasteProfile
	for i := 0; i < 8; i++ {
		profiles = append(profiles, jainProfile(fmt.Sprintf("u%d", i)))
	}
	f := newServiceFixture(t, echoOracle(), vegRecipes("v", 20), profiles...)

	var wg sync.WaitGroup
	errs := make([]error, len(profiles))
	for i, p := range profiles {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			_, errs[i] = f.svc.Recommend(context.Background(), Request{UserID: userID})
		}(i, p.UserID)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

// 隨機目錄與口味檔案下，成功結果絕不違反飲食類型與無蔥蒜限制
func TestRecommendSafetyProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	diets := []string{taxonomy.StrictVegetarian, taxonomy.VegetarianWithEggs, taxonomy.NonVegetarian}
	allium := []string{taxonomy.True, taxonomy.False, ""}

	for round := 0; round < 25; round++ {
		var recipes []catalog.Recipe
		var allIDs []string
		for i := 0; i < 80; i++ {
			var tags []string
			if rng.Intn(8) != 0 {
				tags = append(tags, taxonomy.DimDietaryType, diets[rng.Intn(len(diets))])
			}
			if a := allium[rng.Intn(len(allium))]; a != "" {
				tags = append(tags, taxonomy.DimAlliumFree, a)
			}
			id := fmt.Sprintf("r%d-%d", round, i)
			allIDs = append(allIDs, id)
			recipes = append(recipes, recipe(id, fmt.Sprintf("Dish %d", rng.Intn(60)), intPtr(5+rng.Intn(60)), tags...))
		}

		p := &profile.TasteProfile{
			UserID:               "prop",
			DietaryType:          diets[rng.Intn(len(diets))],
			AlliumRequiredAbsent: rng.Intn(2) == 0,
		}
		if rng.Intn(2) == 0 {
			p.TimeBudgetMinutes = intPtr(20 + rng.Intn(40))
		}

		// oracle 混入目錄中但不在候選集內的 ID
		oc := &stubOracle{respond: func(_ int, req *oracle.Request) (string, error) {
			ids := promptCandidateIDs(req.User)
			for j := 0; j < 5; j++ {
				ids = append(ids, allIDs[rng.Intn(len(allIDs))])
			}
			rng.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })
			return oracleJSON(selectIDs(ids...), nil), nil
		}}
		f := newServiceFixture(t, oc, recipes, p)

		res, err := f.svc.Recommend(context.Background(), Request{UserID: "prop"})
		if err != nil {
			require.True(t, errors.Is(err, ErrInsufficientCandidates) || errors.Is(err, ErrInsufficientValidatedResults), err)
			continue
		}
		for _, rec := range res.Recommendations {
			r, err := f.catalog.Get(context.Background(), rec.RecipeID)
			require.NoError(t, err)
			require.Equal(t, []string{p.DietaryType}, r.TagValues(taxonomy.DimDietaryType), rec.RecipeID)
			if p.AlliumRequiredAbsent {
				require.Equal(t, []string{taxonomy.True}, r.TagValues(taxonomy.DimAlliumFree), rec.RecipeID)
			}
			if p.TimeBudgetMinutes != nil {
				require.LessOrEqual(t, *r.CookTimeMinutes, *p.TimeBudgetMinutes+testConfig().WidenTimeSlackMinutes)
			}
		}
	}
}
