package oracle

import (
	"context"
	"errors"
	"fmt"

	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/metrics"
	"recipe-recommender/internal/pkg/common"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerClient 以熔斷器保護的 oracle 後端
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker[*Completion]
	name string
}

// NewBreakerClient 包裝後端
func NewBreakerClient(next Client, cfg config.BreakerConfig) *BreakerClient {
	cbName := "oracle-" + next.Name()
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Completion](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				common.LogWarn("Opening oracle circuit",
					zap.Uint32("failures", counts.TotalFailures),
					zap.Float64("failure_ratio", ratio),
				)
				return true
			}
			return false
		},
		// 呼叫方取消不計入失敗
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			common.LogInfo("Oracle circuit state transition",
				zap.String("breaker", name),
				zap.String("from", fromStr),
				zap.String("to", toStr),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerClient{next: next, cb: cb, name: cbName}
}

// Name 後端名稱
func (b *BreakerClient) Name() string { return b.next.Name() }

// State 目前熔斷器狀態
func (b *BreakerClient) State() string { return stateToString(b.cb.State()) }

// Complete 經熔斷器送出請求
func (b *BreakerClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	out, err := b.cb.Execute(func() (*Completion, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return out, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
