// Package recommend 提供推薦 HTTP 端點。
package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"recipe-recommender/internal/core/ai/queue"
	core "recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recommender 單次推薦
type Recommender interface {
	Recommend(ctx context.Context, req core.Request) (*core.Result, error)
}

// BatchRunner 批次推薦
type BatchRunner interface {
	RunBatch(ctx context.Context, reqs []core.Request) []queue.Result
}

// RecommendationRequest 單次推薦請求
type RecommendationRequest struct {
	UserID            string   `json:"user_id" binding:"required,max=128"`
	MealType          string   `json:"meal_type,omitempty" binding:"omitempty,max=32"`
	PantryIngredients []string `json:"pantry_ingredients,omitempty" binding:"max=50,dive,required,max=64"`
}

// BatchRequest 批次推薦請求
type BatchRequest struct {
	UserIDs  []string `json:"user_ids" binding:"required,min=1,max=50,dive,required,max=128"`
	MealType string   `json:"meal_type,omitempty" binding:"omitempty,max=32"`
}

// BatchItem 批次中單一使用者的結果
type BatchItem struct {
	UserID string                `json:"user_id"`
	Result *core.Result          `json:"result,omitempty"`
	Error  *common.ErrorResponse `json:"error,omitempty"`
}

// BatchResponse 批次推薦響應
type BatchResponse struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// Handler 推薦處理程序
type Handler struct {
	recommender Recommender
	batch       BatchRunner
	debug       bool
}

// NewHandler 創建推薦處理程序；debug 為 true 時允許以 ?debug=true 取得排除清單
func NewHandler(r Recommender, b BatchRunner, debug bool) *Handler {
	return &Handler{recommender: r, batch: b, debug: debug}
}

// HandleRecommend POST /api/v1/recommendations
func (h *Handler) HandleRecommend(c *gin.Context) {
	reqID := requestid.Get(c)

	var req RecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogWarn("請求格式無效",
			zap.Error(err),
			zap.String("request_id", reqID),
		)
		h.writeError(c, common.ErrInvalidRequest.WithCause(err))
		return
	}

	res, err := h.recommender.Recommend(c.Request.Context(), core.Request{
		RequestID:         reqID,
		UserID:            req.UserID,
		MealType:          req.MealType,
		PantryIngredients: req.PantryIngredients,
	})
	if err != nil {
		h.writeError(c, toAPIError(err))
		return
	}

	c.JSON(http.StatusOK, h.present(c, res))
}

// HandleBatch POST /api/v1/recommendations/batch
func (h *Handler) HandleBatch(c *gin.Context) {
	reqID := requestid.Get(c)

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogWarn("批次請求格式無效",
			zap.Error(err),
			zap.String("request_id", reqID),
		)
		h.writeError(c, common.ErrInvalidRequest.WithCause(err))
		return
	}

	reqs := make([]core.Request, len(req.UserIDs))
	for i, id := range req.UserIDs {
		reqs[i] = core.Request{
			RequestID: fmt.Sprintf("%s-%d", reqID, i),
			UserID:    id,
			MealType:  req.MealType,
		}
	}

	results := h.batch.RunBatch(c.Request.Context(), reqs)

	resp := BatchResponse{Results: make([]BatchItem, len(results))}
	for i, r := range results {
		item := BatchItem{UserID: r.UserID}
		if r.Error != nil {
			apiErr := toAPIError(r.Error).Response(h.debug)
			item.Error = &apiErr
			resp.Failed++
		} else {
			item.Result = h.present(c, r.Result)
			resp.Succeeded++
		}
		resp.Results[i] = item
	}

	common.LogInfo("批次推薦完成",
		zap.String("request_id", reqID),
		zap.Int("users", len(reqs)),
		zap.Int("succeeded", resp.Succeeded),
		zap.Int("failed", resp.Failed),
	)
	c.JSON(http.StatusOK, resp)
}

// present 排除清單與 oracle 診斷只供除錯，預設不回傳給終端使用者
func (h *Handler) present(c *gin.Context, res *core.Result) *core.Result {
	if h.debug && c.Query("debug") == "true" {
		return res
	}
	out := *res
	out.Avoided = nil
	out.Diagnostics = core.Diagnostics{}
	return &out
}

func (h *Handler) writeError(c *gin.Context, apiErr *common.CustomError) {
	_ = c.Error(apiErr)
	c.AbortWithStatusJSON(apiErr.Status, apiErr.Response(h.debug))
}

// toAPIError 將流程錯誤對應為 API 錯誤
//
// 請求層級的流程失敗一律回傳通用訊息，具體類型只記錄在伺服器端。
func toAPIError(err error) *common.CustomError {
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return common.ErrInvalidRequest.WithCause(err)
	case errors.Is(err, core.ErrProfileNotFound):
		return common.ErrProfileNotFound.WithCause(err)
	case errors.Is(err, core.ErrInvalidProfile):
		return common.ErrInvalidProfile.WithCause(err)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
		return common.ErrServiceUnavailable.WithCause(err)
	case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, core.ErrOracleTransport):
		return common.ErrGatewayTimeout.WithCause(err)
	default:
		return common.ErrRecommendationUnavailable.WithCause(err)
	}
}
