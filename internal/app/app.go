// Package app 依配置組裝推薦服務的完整物件圖。
package app

import (
	"context"
	"errors"
	"fmt"

	"recipe-recommender/internal/core/ai/cache"
	"recipe-recommender/internal/core/ai/oracle"
	"recipe-recommender/internal/core/ai/queue"
	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/core/taxonomy"
	"recipe-recommender/internal/core/telemetry"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App 組裝完成的服務元件
type App struct {
	Config      *config.Config
	Taxonomy    *taxonomy.Taxonomy
	Profiles    profile.Store
	Catalog     catalog.Store
	Oracle      oracle.Client
	Recommender *recommend.Service
	Queue       *queue.Manager
	Cache       *cache.CacheManager

	redis   redis.UniversalClient
	closers []func() error
}

// Option 組裝選項
type Option func(*options)

type options struct {
	rdb    redis.UniversalClient
	client oracle.Client
}

// WithOracle 使用指定的 oracle（略過依配置建立）
func WithOracle(c oracle.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRedis 使用指定的 Redis 連線
func WithRedis(c redis.UniversalClient) Option {
	return func(o *options) { o.rdb = c }
}

// RecommendConfig 將應用配置轉為推薦流程參數
func RecommendConfig(cfg *config.Config) recommend.Config {
	rc := cfg.Recommend
	return recommend.Config{
		CandidateLimit:        rc.CandidateLimit,
		ScanFactor:            rc.ScanFactor,
		MinViableCandidates:   rc.MinViableCandidates,
		MinResults:            rc.MinResults,
		MaxResults:            rc.MaxResults,
		MinAvoided:            rc.MinAvoided,
		RejectThreshold:       rc.RejectThreshold,
		WidenTimeSlackMinutes: rc.WidenTimeSlackMinutes,
		DescriptionMaxLen:     rc.DescriptionMaxLen,
		AutoMealType:          rc.AutoMealType,
		MaxOracleAttempts:     cfg.Oracle.MaxAttempts,
		OracleAttemptTimeout:  cfg.Oracle.AttemptTimeout,
		Temperature:           cfg.Oracle.Temperature,
		MaxTokens:             cfg.OpenRouter.MaxTokens,
	}
}

// New 依配置建立所有元件
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, redis: o.rdb}

	tax, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return nil, err
	}
	a.Taxonomy = tax

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Storage.FixturePath != "" {
		np, nr, err := a.Seed(ctx, cfg.Storage.FixturePath)
		if err != nil {
			a.Close()
			return nil, err
		}
		common.LogInfo("種子資料已載入",
			zap.String("path", cfg.Storage.FixturePath),
			zap.Int("profiles", np),
			zap.Int("recipes", nr),
		)
	}

	a.Oracle = o.client
	if a.Oracle == nil {
		a.Oracle, err = oracle.New(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize oracle: %w", err)
		}
	}

	svcOpts := []recommend.Option{a.initPublisher()}
	if c := a.initCache(); c != nil {
		svcOpts = append(svcOpts, recommend.WithCache(c))
	}

	a.Recommender = recommend.NewService(a.Profiles, a.Catalog, tax, a.Oracle, RecommendConfig(cfg), svcOpts...)
	a.Queue = queue.NewManager(cfg.Queue, a.Recommender)
	a.closers = append(a.closers, func() error {
		a.Queue.Close()
		return nil
	})

	common.LogInfo("Recommendation service initialized",
		zap.String("oracle", a.Oracle.Name()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("kafka_enabled", cfg.Kafka.Enabled),
		zap.Int("queue_workers", cfg.Queue.Workers),
	)
	return a, nil
}

func (a *App) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect redis %s: %w", a.Config.Redis.Addr, err)
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.Config.Storage.Backend {
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		a.Profiles = profile.NewRedisStore(client)
		a.Catalog = catalog.NewRedisCatalog(client, a.Taxonomy)
	default:
		a.Profiles = profile.NewMemoryStore()
		a.Catalog = catalog.NewMemoryCatalog(a.Taxonomy)
	}
	return nil
}

func (a *App) initCache() recommend.ResultCache {
	cfg := a.Config.Cache
	if !cfg.Enabled {
		return nil
	}
	if cfg.Backend == "redis" {
		client, err := a.redisClient(context.Background())
		if err != nil {
			common.LogWarn("Redis 快取不可用，改用記憶體快取", zap.Error(err))
		} else {
			return cache.NewService(client, cfg.TTL)
		}
	}
	a.Cache = cache.NewManager(cfg)
	a.closers = append(a.closers, a.Cache.Close)
	return a.Cache
}

func (a *App) initPublisher() recommend.Option {
	if !a.Config.Kafka.Enabled {
		return recommend.WithPublisher(telemetry.LogPublisher{})
	}
	p := telemetry.NewKafkaPublisher(a.Config.Kafka)
	a.closers = append(a.closers, p.Close)
	return recommend.WithPublisher(p)
}

// Seed 從 YAML 檔案載入口味檔案與食譜
func (a *App) Seed(ctx context.Context, path string) (int, int, error) {
	profiles, err := profile.LoadFixture(path)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range profiles {
		if err := a.Profiles.Put(ctx, p); err != nil {
			return 0, 0, fmt.Errorf("seed profile %s: %w", p.UserID, err)
		}
	}
	recipes, err := catalog.LoadFixture(path)
	if err != nil {
		return 0, 0, err
	}
	if err := a.Catalog.Put(ctx, recipes...); err != nil {
		return 0, 0, fmt.Errorf("seed recipes: %w", err)
	}
	return len(profiles), len(recipes), nil
}

// Ready 檢查外部依賴是否可用
func (a *App) Ready(ctx context.Context) error {
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if _, err := a.Catalog.Count(ctx); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	return nil
}

// Close 依建立的相反順序釋放資源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
