package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"recipe-recommender/internal/app"
	"recipe-recommender/internal/core/ai/oracle"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`"recipe_id": "([^"<]+)"`)

// rankAll 依提示詞順序選出候選，最後兩個列為排除
type rankAll struct{}

func (rankAll) Name() string { return "rank-all" }

func (rankAll) Complete(_ context.Context, req *oracle.Request) (*oracle.Completion, error) {
	var ids []string
	for _, m := range idPattern.FindAllStringSubmatch(req.User, -1) {
		ids = append(ids, m[1])
	}
	var recs, avoided []map[string]any
	for i, id := range ids {
		if i >= len(ids)-2 {
			avoided = append(avoided, map[string]any{"recipe_id": id, "reason": "weaker fit"})
			continue
		}
		recs = append(recs, map[string]any{"recipe_id": id, "confidence_score": 0.95 - float64(i)*0.01, "reasoning": "fits"})
	}
	data, err := json.Marshal(map[string]any{"recommendations": recs, "avoided": avoided})
	if err != nil {
		return nil, err
	}
	return &oracle.Completion{Content: string(data)}, nil
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		App:    config.AppConfig{Version: "test", Debug: true},
		Oracle: config.OracleConfig{AttemptTimeout: 5 * time.Second, MaxAttempts: 2},
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
		Storage:     config.StorageConfig{Backend: "memory", FixturePath: "../../configs/fixtures.yaml"},
		Queue:       config.QueueConfig{Workers: 2, MaxSize: 10, JobTimeout: 10 * time.Second},
		DedupWindow: time.Millisecond,
	}
	a, err := app.New(context.Background(), cfg, app.WithOracle(rankAll{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRouterEndpoints(t *testing.T) {
	router, err := SetupRouter(newTestApp(t))
	require.NoError(t, err)

	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	body, _ := json.Marshal(map[string]any{"user_id": "priya"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommendations?debug=true", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res recommend.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.GreaterOrEqual(t, len(res.Recommendations), 5)
	assert.NotEmpty(t, res.Avoided)
	assert.Equal(t, w.Header().Get("X-Request-ID"), res.RequestID)
}

func TestRouterBatch(t *testing.T) {
	router, err := SetupRouter(newTestApp(t))
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"user_ids": []string{"priya", "nobody"}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommendations/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
}
