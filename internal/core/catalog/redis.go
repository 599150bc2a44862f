package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"recipe-recommender/internal/core/taxonomy"

	"github.com/go-redis/redis/v8"
)

const (
	redisIDsKey = "catalog:ids"
)

func recipeKey(id string) string {
	return fmt.Sprintf("catalog:recipe:%s", id)
}

func tagKey(dimension, value string) string {
	return fmt.Sprintf("catalog:tag:%s:%s", dimension, value)
}

// RedisCatalog Redis 食譜目錄
//
// 食譜以 JSON 存於 catalog:recipe:{id}，標籤索引為集合 catalog:tag:{dimension}:{value}。
type RedisCatalog struct {
	client redis.UniversalClient
	tax    *taxonomy.Taxonomy
}

// NewRedisCatalog 創建 Redis 食譜目錄
func NewRedisCatalog(client redis.UniversalClient, tax *taxonomy.Taxonomy) *RedisCatalog {
	return &RedisCatalog{client: client, tax: tax}
}

// Put 新增或覆寫食譜，並維護標籤索引
func (c *RedisCatalog) Put(ctx context.Context, recipes ...Recipe) error {
	for _, r := range recipes {
		r = Canonicalize(c.tax, r)

		// 舊記錄的標籤需從索引移除
		old, err := c.Get(ctx, r.ID)
		if err != nil && err != ErrNotFound {
			return err
		}
		hadOld := err == nil

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal recipe %s: %w", r.ID, err)
		}

		_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if hadOld {
				for _, t := range old.Tags {
					pipe.SRem(ctx, tagKey(t.Dimension, t.Value), old.ID)
				}
			}
			pipe.Set(ctx, recipeKey(r.ID), data, 0)
			pipe.SAdd(ctx, redisIDsKey, r.ID)
			for _, t := range r.Tags {
				pipe.SAdd(ctx, tagKey(t.Dimension, t.Value), r.ID)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to store recipe %s: %w", r.ID, err)
		}
	}
	return nil
}

// Query 以 SINTER 取得符合標籤的 ID，再於程序內排序
func (c *RedisCatalog) Query(ctx context.Context, q Query) ([]Recipe, error) {
	var (
		ids []string
		err error
	)
	if len(q.Filters) == 0 {
		ids, err = c.client.SMembers(ctx, redisIDsKey).Result()
	} else {
		keys := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			keys = append(keys, tagKey(f.Dimension, f.Value))
		}
		ids, err = c.client.SInter(ctx, keys...).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tag index: %w", err)
	}

	recipes, err := c.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := recipes[:0]
	for i := range recipes {
		// 索引與記錄之間可能短暫不一致，再以記錄本身確認一次
		if matches(&recipes[i], &q) {
			out = append(out, recipes[i])
		}
	}
	return orderAndLimit(out, &q), nil
}

// Get 取得單一食譜
func (c *RedisCatalog) Get(ctx context.Context, id string) (Recipe, error) {
	data, err := c.client.Get(ctx, recipeKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Recipe{}, ErrNotFound
		}
		return Recipe{}, fmt.Errorf("failed to get recipe %s: %w", id, err)
	}
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return Recipe{}, fmt.Errorf("failed to unmarshal recipe %s: %w", id, err)
	}
	return r, nil
}

// Count 返回食譜數量
func (c *RedisCatalog) Count(ctx context.Context) (int, error) {
	n, err := c.client.SCard(ctx, redisIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return int(n), nil
}

func (c *RedisCatalog) load(ctx context.Context, ids []string) ([]Recipe, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recipeKey(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load recipes: %w", err)
	}

	out := make([]Recipe, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var r Recipe
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipe %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}
