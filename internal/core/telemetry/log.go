package telemetry

import (
	"context"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/metrics"
	"recipe-recommender/internal/pkg/common"

	"go.uber.org/zap"
)

// LogPublisher 未啟用 Kafka 時以日誌記錄結果事件
type LogPublisher struct{}

// Publish 記錄事件摘要；avoided 清單只在 debug 層級輸出
func (LogPublisher) Publish(_ context.Context, o recommend.Outcome) error {
	metrics.TelemetryEvents.WithLabelValues("log", "success").Inc()
	common.LogDebug("推薦結果事件",
		zap.String("request_id", o.RequestID),
		zap.String("user_id", o.UserID),
		zap.String("outcome", o.Outcome),
		zap.Int("recommended", len(o.Recommended)),
		zap.Any("avoided", o.Avoided),
	)
	return nil
}

// Close 無資源需釋放
func (LogPublisher) Close() error { return nil }
