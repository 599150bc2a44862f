package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Store 口味檔案存取介面
type Store interface {
	Get(ctx context.Context, userID string) (*TasteProfile, error)
	Put(ctx context.Context, p *TasteProfile) error
}

// MemoryStore 記憶體口味檔案存取
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*TasteProfile
}

// NewMemoryStore 創建記憶體存取
func NewMemoryStore(profiles ...*TasteProfile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[string]*TasteProfile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.UserID] = p.Clone()
	}
	return s
}

// Get 取得口味檔案副本
func (s *MemoryStore) Get(_ context.Context, userID string) (*TasteProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Put 儲存口味檔案
func (s *MemoryStore) Put(_ context.Context, p *TasteProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p.Clone()
	return nil
}

// RedisStore Redis 口味檔案存取，JSON 存於 profile:{user_id}
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 創建 Redis 存取
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func profileKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

// Get 取得口味檔案
func (s *RedisStore) Get(ctx context.Context, userID string) (*TasteProfile, error) {
	data, err := s.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	var p TasteProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile %s: %w", userID, err)
	}
	return &p, nil
}

// Put 儲存口味檔案
func (s *RedisStore) Put(ctx context.Context, p *TasteProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile %s: %w", p.UserID, err)
	}
	if err := s.client.Set(ctx, profileKey(p.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store profile %s: %w", p.UserID, err)
	}
	return nil
}
