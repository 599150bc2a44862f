package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"recipe-recommender/internal/core/ai/queue"
	core "recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecommender struct {
	results map[string]*core.Result
	errs    map[string]error
	got     []core.Request
}

func (f *fakeRecommender) Recommend(_ context.Context, req core.Request) (*core.Result, error) {
	f.got = append(f.got, req)
	if err, ok := f.errs[req.UserID]; ok {
		return nil, err
	}
	return f.results[req.UserID], nil
}

func (f *fakeRecommender) RunBatch(ctx context.Context, reqs []core.Request) []queue.Result {
	out := make([]queue.Result, len(reqs))
	for i, r := range reqs {
		res, err := f.Recommend(ctx, r)
		out[i] = queue.Result{UserID: r.UserID, Result: res, Error: err}
	}
	return out
}

func sampleResult(userID string) *core.Result {
	return &core.Result{
		UserID: userID,
		Recommendations: []core.Recommendation{
			{RecipeID: "r1", Title: "Khaman Dhokla", Confidence: 0.95, ValidatorApproved: true},
		},
		Avoided: []core.Avoided{
			{RecipeID: "r9", Title: "Onion Bhaji", Reason: "allium_free is false", Origin: core.OriginValidator},
		},
		Diagnostics: core.Diagnostics{UnknownIDs: []string{"r404"}, UniformConfidence: true},
	}
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestid.New())
	r.POST("/api/v1/recommendations", h.HandleRecommend)
	r.POST("/api/v1/recommendations/batch", h.HandleBatch)
	return r
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleRecommendHidesAvoided(t *testing.T) {
	f := &fakeRecommender{results: map[string]*core.Result{"priya": sampleResult("priya")}}
	r := newRouter(NewHandler(f, f, false))

	w := postJSON(r, "/api/v1/recommendations?debug=true", map[string]any{"user_id": "priya", "meal_type": "dinner"})
	require.Equal(t, http.StatusOK, w.Code)

	var res core.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Recommendations, 1)
	assert.Empty(t, res.Avoided)
	assert.Equal(t, core.Diagnostics{}, res.Diagnostics)
	assert.NotContains(t, w.Body.String(), "r404")

	require.Len(t, f.got, 1)
	assert.Equal(t, "dinner", f.got[0].MealType)
	assert.NotEmpty(t, f.got[0].RequestID)
	assert.Equal(t, w.Header().Get("X-Request-ID"), f.got[0].RequestID)
}

func TestHandleRecommendDebugShowsAvoided(t *testing.T) {
	f := &fakeRecommender{results: map[string]*core.Result{"priya": sampleResult("priya")}}
	r := newRouter(NewHandler(f, f, true))

	w := postJSON(r, "/api/v1/recommendations?debug=true", map[string]any{"user_id": "priya"})
	require.Equal(t, http.StatusOK, w.Code)

	var res core.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Avoided, 1)
	assert.Equal(t, "r9", res.Avoided[0].RecipeID)
	assert.Equal(t, []string{"r404"}, res.Diagnostics.UnknownIDs)

	// 原始結果不被修改
	plain := postJSON(r, "/api/v1/recommendations", map[string]any{"user_id": "priya"})
	require.NoError(t, json.Unmarshal(plain.Body.Bytes(), &res))
	assert.Empty(t, res.Avoided)
	assert.Len(t, f.results["priya"].Avoided, 1)
	assert.True(t, f.results["priya"].Diagnostics.UniformConfidence)
}

func TestHandleRecommendErrors(t *testing.T) {
	transport := &core.PipelineError{Kind: core.ErrOracleTransport, Stage: core.StageOracle, Attempts: 2, Err: errors.New("status 502")}
	f := &fakeRecommender{errs: map[string]error{
		"ghost":   core.ErrProfileNotFound,
		"broken":  core.ErrInvalidProfile,
		"meal":    core.ErrInvalidRequest,
		"oracle":  transport,
		"few":     &core.PipelineError{Kind: core.ErrInsufficientValidatedResults, Stage: core.StageAssemble, Got: 2, Need: 5},
		"timeout": context.DeadlineExceeded,
	}}
	r := newRouter(NewHandler(f, f, false))

	tests := []struct {
		user   string
		status int
		code   string
	}{
		{"ghost", http.StatusNotFound, common.ErrCodeProfileNotFound},
		{"broken", http.StatusBadRequest, common.ErrCodeInvalidProfile},
		{"meal", http.StatusBadRequest, common.ErrCodeInvalidRequest},
		{"oracle", http.StatusServiceUnavailable, common.ErrCodeRecommendationUnavailable},
		{"few", http.StatusServiceUnavailable, common.ErrCodeRecommendationUnavailable},
		{"timeout", http.StatusGatewayTimeout, common.ErrCodeGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			w := postJSON(r, "/api/v1/recommendations", map[string]any{"user_id": tt.user})
			assert.Equal(t, tt.status, w.Code)

			var resp common.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Empty(t, resp.Details)
		})
	}

	w := postJSON(r, "/api/v1/recommendations", map[string]any{"user_id": "oracle"})
	assert.Contains(t, w.Body.String(), "couldn't personalize right now")
	assert.NotContains(t, w.Body.String(), "502")
}

func TestHandleRecommendInvalidBody(t *testing.T) {
	f := &fakeRecommender{}
	r := newRouter(NewHandler(f, f, false))

	w := postJSON(r, "/api/v1/recommendations", map[string]any{"meal_type": "dinner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.got)
}

func TestHandleBatch(t *testing.T) {
	f := &fakeRecommender{
		results: map[string]*core.Result{"priya": sampleResult("priya"), "arjun": sampleResult("arjun")},
		errs:    map[string]error{"ghost": core.ErrProfileNotFound},
	}
	r := newRouter(NewHandler(f, f, false))

	w := postJSON(r, "/api/v1/recommendations/batch", map[string]any{"user_ids": []string{"priya", "ghost", "arjun"}, "meal_type": "lunch"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "ghost", resp.Results[1].UserID)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, common.ErrCodeProfileNotFound, resp.Results[1].Error.Code)
	assert.Empty(t, resp.Results[0].Result.Avoided)

	for _, req := range f.got {
		assert.Equal(t, "lunch", req.MealType)
	}

	empty := postJSON(r, "/api/v1/recommendations/batch", map[string]any{"user_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}
