// Package telemetry 發送推薦結果事件（含 avoided 清單），供稽核與回歸分析使用。
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/metrics"
	"recipe-recommender/internal/pkg/common"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter kafka.Writer 的最小介面
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 以 Kafka 發送結果事件
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaPublisher 創建非同步 Kafka 發送者
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.TelemetryEvents.WithLabelValues("kafka", "error").Add(float64(len(messages)))
				common.LogWarn("遙測事件寫入 Kafka 失敗",
					zap.Int("messages", len(messages)),
					zap.Error(err),
				)
				return
			}
			metrics.TelemetryEvents.WithLabelValues("kafka", "success").Add(float64(len(messages)))
		},
	}
	common.LogInfo("Kafka telemetry enabled",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return NewKafkaPublisherWithWriter(w, cfg.Topic)
}

// NewKafkaPublisherWithWriter 使用指定的 writer
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish 發送單一事件，以 user_id 作為分區鍵
func (p *KafkaPublisher) Publish(ctx context.Context, o recommend.Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(o.UserID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(o.Outcome)},
			{Key: "request_id", Value: []byte(o.RequestID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.TelemetryEvents.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("write outcome to %s: %w", p.topic, err)
	}
	return nil
}

// Close 關閉 writer 並送出緩衝中的事件
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
