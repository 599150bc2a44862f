package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"recipe-recommender/internal/core/ai/queue"
	"recipe-recommender/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReadinessChecker 檢查外部依賴
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// QueueReporter 提供批次隊列狀態
type QueueReporter interface {
	GetQueueStatus() *queue.Status
}

// BreakerReporter 提供熔斷器狀態
type BreakerReporter interface {
	State() string
}

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Oracle    string                 `json:"oracle,omitempty"`
	Breaker   string                 `json:"breaker,omitempty"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *queue.Status          `json:"queue,omitempty"`
}

// Handler 健康檢查處理器
type Handler struct {
	version string
	oracle  string
	ready   ReadinessChecker
	queue   QueueReporter
	breaker BreakerReporter
}

// NewHandler 創建健康檢查處理器；breaker 可為 nil
func NewHandler(version, oracle string, ready ReadinessChecker, q QueueReporter, breaker BreakerReporter) *Handler {
	return &Handler{version: version, oracle: oracle, ready: ready, queue: q, breaker: breaker}
}

// HealthCheck 健康檢查
func (h *Handler) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Oracle:    h.oracle,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	if h.queue != nil {
		response.Queue = h.queue.GetQueueStatus()
	}
	if h.breaker != nil {
		response.Breaker = h.breaker.State()
		if response.Breaker == "open" {
			response.Status = "degraded"
		}
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查：Redis 與食譜目錄可用
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ready(ctx); err != nil {
			common.LogWarn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck 存活檢查
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
