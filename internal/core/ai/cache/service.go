package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const keyPrefix = "recommend:result:"

// Service Redis 推薦結果緩存
type Service struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewService 創建 Redis 緩存服務
func NewService(client redis.UniversalClient, ttl time.Duration) *Service {
	return &Service{client: client, ttl: ttl}
}

// Get 獲取緩存；Redis 錯誤視為未命中
func (s *Service) Get(ctx context.Context, key string) (*recommend.Result, bool) {
	data, err := s.client.Get(ctx, s.generateKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			common.LogWarn("failed to get cache", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var res recommend.Result
	if err := json.Unmarshal(data, &res); err != nil {
		common.LogWarn("failed to unmarshal cache", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &res, true
}

// Set 設置緩存
func (s *Service) Set(ctx context.Context, key string, r *recommend.Result) {
	if err := s.set(ctx, key, r); err != nil {
		common.LogWarn("failed to set cache", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) set(ctx context.Context, key string, r *recommend.Result) error {
	stored := *r
	stored.CacheHit = false
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := s.client.Set(ctx, s.generateKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// generateKey 生成緩存鍵
func (s *Service) generateKey(key string) string {
	return keyPrefix + key
}
