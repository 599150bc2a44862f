package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecommender struct {
	inflight int32
	peak     int32
	block    chan struct{}
	fail     map[string]error
}

func (f *fakeRecommender) Recommend(ctx context.Context, req recommend.Request) (*recommend.Result, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[req.UserID]; err != nil {
		return nil, err
	}
	return &recommend.Result{UserID: req.UserID}, nil
}

func TestRunBatchPreservesOrder(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRecommender{fail: map[string]error{"u2": boom}}
	m := NewManager(config.QueueConfig{Workers: 3, MaxSize: 10, JobTimeout: time.Second}, r)
	defer m.Close()

	results := m.RunBatch(context.Background(), []recommend.Request{
		{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}, {UserID: "u4"},
	})

	require.Len(t, results, 4)
	for i, id := range []string{"u1", "u2", "u3", "u4"} {
		assert.Equal(t, id, results[i].UserID)
	}
	assert.ErrorIs(t, results[1].Error, boom)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, "u4", results[3].Result.UserID)
	assert.LessOrEqual(t, atomic.LoadInt32(&r.peak), int32(3))
	assert.Equal(t, 4, m.GetQueueStatus().ProcessedCount)
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	r := &fakeRecommender{block: make(chan struct{})}
	m := NewManager(config.QueueConfig{Workers: 1, MaxSize: 1}, r)
	defer m.Close()
	defer close(r.block)

	ctx := context.Background()
	_, err := m.Enqueue(ctx, recommend.Request{UserID: "running"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.inflight) == 1 }, time.Second, time.Millisecond)

	_, err = m.Enqueue(ctx, recommend.Request{UserID: "queued"})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, recommend.Request{UserID: "overflow"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestJobTimeout(t *testing.T) {
	r := &fakeRecommender{block: make(chan struct{})}
	m := NewManager(config.QueueConfig{Workers: 1, MaxSize: 1, JobTimeout: 20 * time.Millisecond}, r)
	defer m.Close()

	results := m.RunBatch(context.Background(), []recommend.Request{{UserID: "slow"}})
	assert.ErrorIs(t, results[0].Error, context.DeadlineExceeded)
}

func TestEnqueueAfterClose(t *testing.T) {
	m := NewManager(config.QueueConfig{Workers: 1, MaxSize: 1}, &fakeRecommender{})
	m.Close()

	_, err := m.Enqueue(context.Background(), recommend.Request{UserID: "u1"})
	assert.ErrorIs(t, err, ErrClosed)
}
