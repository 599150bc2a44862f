// Package queue 以有界工作池批次執行推薦請求。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/metrics"
	"recipe-recommender/internal/pkg/common"

	"go.uber.org/zap"
)

// ErrQueueFull 隊列已滿
var ErrQueueFull = errors.New("queue is full")

// ErrClosed 隊列已關閉
var ErrClosed = errors.New("queue manager is closed")

// Recommender 執行單次推薦
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Result, error)
}

// Request 隊列請求
type Request struct {
	Context context.Context
	Request recommend.Request
	Result  chan Result
}

// Result 處理結果
type Result struct {
	UserID string
	Result *recommend.Result
	Error  error
}

// Status 隊列狀態
type Status struct {
	QueueLength    int `json:"queue_length"`
	ProcessedCount int `json:"processed_count"`
	MaxQueueSize   int `json:"max_queue_size"`
	Workers        int `json:"workers"`
}

// Manager 隊列管理器
type Manager struct {
	workers     int
	maxSize     int
	jobTimeout  time.Duration
	recommender Recommender

	queue     chan *Request
	done      chan struct{}
	processed int64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager 創建隊列管理器並啟動工作者
func NewManager(cfg config.QueueConfig, r Recommender) *Manager {
	m := &Manager{
		workers:     cfg.Workers,
		maxSize:     cfg.MaxSize,
		jobTimeout:  cfg.JobTimeout,
		recommender: r,
		queue:       make(chan *Request, cfg.MaxSize),
		done:        make(chan struct{}),
	}
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work(i)
	}
	common.LogInfo("Queue manager started",
		zap.Int("workers", m.workers),
		zap.Int("max_queue_size", m.maxSize),
	)
	return m
}

func (m *Manager) work(id int) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case req := <-m.queue:
			metrics.QueueDepth.Set(float64(len(m.queue)))
			req.Result <- m.process(id, req)
		}
	}
}

func (m *Manager) process(worker int, req *Request) Result {
	defer atomic.AddInt64(&m.processed, 1)

	ctx := req.Context
	if err := ctx.Err(); err != nil {
		metrics.BatchJobs.WithLabelValues("canceled").Inc()
		return Result{UserID: req.Request.UserID, Error: err}
	}
	if m.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.jobTimeout)
		defer cancel()
	}

	res, err := m.recommender.Recommend(ctx, req.Request)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.BatchJobs.WithLabelValues(status).Inc()
	common.LogDebug("Batch job processed",
		zap.Int("worker", worker),
		zap.String("user_id", req.Request.UserID),
		zap.String("status", status),
	)
	return Result{UserID: req.Request.UserID, Result: res, Error: err}
}

// Enqueue 將請求加入隊列；隊列滿時立即失敗
func (m *Manager) Enqueue(ctx context.Context, req recommend.Request) (chan Result, error) {
	queueReq := &Request{
		Context: ctx,
		Request: req,
		Result:  make(chan Result, 1),
	}

	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	select {
	case m.queue <- queueReq:
		metrics.QueueDepth.Set(float64(len(m.queue)))
		return queueReq.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	default:
		metrics.BatchJobs.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w (max %d)", ErrQueueFull, m.maxSize)
	}
}

// RunBatch 執行一批請求，結果順序與輸入相同
//
// 單一請求失敗不影響其他請求；無法入隊的請求以錯誤回報。
func (m *Manager) RunBatch(ctx context.Context, reqs []recommend.Request) []Result {
	results := make([]Result, len(reqs))
	chans := make([]chan Result, len(reqs))
	for i, req := range reqs {
		ch, err := m.Enqueue(ctx, req)
		if err != nil {
			results[i] = Result{UserID: req.UserID, Error: err}
			continue
		}
		chans[i] = ch
	}
	for i, ch := range chans {
		if ch == nil {
			continue
		}
		select {
		case results[i] = <-ch:
		case <-ctx.Done():
			results[i] = Result{UserID: reqs[i].UserID, Error: ctx.Err()}
		}
	}
	return results
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: int(atomic.LoadInt64(&m.processed)),
		MaxQueueSize:   m.maxSize,
		Workers:        m.workers,
	}
}

// Close 關閉隊列管理器並等待工作者結束
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		// 未處理的請求直接回報關閉
		for {
			select {
			case req := <-m.queue:
				req.Result <- Result{UserID: req.Request.UserID, Error: ErrClosed}
			default:
				return
			}
		}
	})
}
