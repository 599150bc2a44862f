package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App          AppConfig        `mapstructure:"app"`
	Server       ServerConfig     `mapstructure:"server"`
	OpenRouter   OpenRouterConfig `mapstructure:"openrouter"`
	Ark          ArkConfig        `mapstructure:"ark"`
	Oracle       OracleConfig     `mapstructure:"oracle"`
	Recommend    RecommendConfig  `mapstructure:"recommend"`
	Taxonomy     TaxonomyConfig   `mapstructure:"taxonomy"`
	Storage      StorageConfig    `mapstructure:"storage"`
	Redis        RedisConfig      `mapstructure:"redis"`
	Cache        CacheConfig      `mapstructure:"cache"`
	Queue        QueueConfig      `mapstructure:"queue"`
	RateLimit    RateLimitConfig  `mapstructure:"rate_limit"`
	Kafka        KafkaConfig      `mapstructure:"kafka"`
	DedupWindow  time.Duration    `mapstructure:"dedup_window"`
	MaxBodyBytes int64            `mapstructure:"max_body_bytes"`
	LogLevel     string           `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Version  string `mapstructure:"version"`
	Name     string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// OpenRouterConfig OpenRouter 配置
type OpenRouterConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Referer   string        `mapstructure:"referer"`
	Title     string        `mapstructure:"title"`
}

// ArkConfig 火山方舟（eino ark）配置
type ArkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// BreakerConfig 熔斷器配置
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// OracleConfig 排序 oracle 配置
type OracleConfig struct {
	Backend        string        `mapstructure:"backend"` // openrouter | ark
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Temperature    float64       `mapstructure:"temperature"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// RecommendConfig 推薦流程配置
type RecommendConfig struct {
	CandidateLimit        int     `mapstructure:"candidate_limit"`
	ScanFactor            int     `mapstructure:"scan_factor"`
	MinViableCandidates   int     `mapstructure:"min_viable_candidates"`
	MinResults            int     `mapstructure:"min_results"`
	MaxResults            int     `mapstructure:"max_results"`
	MinAvoided            int     `mapstructure:"min_avoided"`
	RejectThreshold       float64 `mapstructure:"reject_threshold"`
	WidenTimeSlackMinutes int     `mapstructure:"widen_time_slack_minutes"`
	DescriptionMaxLen     int     `mapstructure:"description_max_len"`
	AutoMealType          bool    `mapstructure:"auto_meal_type"`
}

// TaxonomyConfig 標籤詞彙表配置
type TaxonomyConfig struct {
	Path string `mapstructure:"path"` // 空字串使用內建詞彙表
}

// StorageConfig 口味檔案與食譜目錄的存放位置
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // memory | redis
	FixturePath string `mapstructure:"fixture_path"`
}

// RedisConfig Redis 連線配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig 緩存配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"` // memory | redis
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// QueueConfig 批次工作隊列設定
type QueueConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxSize    int           `mapstructure:"max_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Burst    int           `mapstructure:"burst"`
}

// KafkaConfig 推薦結果遙測配置
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// .env 可選
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// 設定預設值
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定環境變量
	for key, env := range map[string]string{
		"openrouter.api_key":    "OPENROUTER_API_KEY",
		"openrouter.model":      "OPENROUTER_MODEL",
		"openrouter.max_tokens": "MODEL_MAX_TOKENS",
		"ark.api_key":           "ARK_API_KEY",
		"ark.model":             "ARK_MODEL",
		"oracle.backend":        "ORACLE_BACKEND",
		"redis.addr":            "REDIS_ADDR",
		"redis.password":        "REDIS_PASSWORD",
		"storage.backend":       "STORAGE_BACKEND",
		"storage.fixture_path":  "FIXTURE_PATH",
		"cache.enabled":         "CACHE_ENABLED",
		"kafka.enabled":         "KAFKA_ENABLED",
		"kafka.brokers":         "KAFKA_BROKERS",
		"rate_limit.enabled":    "RATE_LIMIT_ENABLED",
		"rate_limit.requests":   "RATE_LIMIT_REQUESTS",
		"rate_limit.window":     "RATE_LIMIT_WINDOW",
		"dedup_window":          "DEDUP_WINDOW",
		"log_level":             "LOG_LEVEL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	// 設定檔可選
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 環境變數給的是逗號分隔字串
	if len(config.Kafka.Brokers) == 1 && strings.Contains(config.Kafka.Brokers[0], ",") {
		config.Kafka.Brokers = strings.Split(config.Kafka.Brokers[0], ",")
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "recipe-recommender")
	v.SetDefault("log_level", "info")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.idle_timeout", "120s")

	// OpenRouter 設定
	v.SetDefault("openrouter.enabled", true)
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "google/gemini-2.0-flash-001")
	v.SetDefault("openrouter.max_tokens", 4000)
	v.SetDefault("openrouter.timeout", "90s")
	v.SetDefault("openrouter.referer", "https://recipe-recommender.local")
	v.SetDefault("openrouter.title", "Recipe Recommender")

	// Ark 設定
	v.SetDefault("ark.enabled", false)
	v.SetDefault("ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")

	// Oracle 設定
	v.SetDefault("oracle.backend", "openrouter")
	v.SetDefault("oracle.attempt_timeout", "60s")
	v.SetDefault("oracle.max_attempts", 2)
	v.SetDefault("oracle.temperature", 0.3)
	v.SetDefault("oracle.breaker.enabled", true)
	v.SetDefault("oracle.breaker.max_requests", 1)
	v.SetDefault("oracle.breaker.interval", "1m")
	v.SetDefault("oracle.breaker.timeout", "30s")
	v.SetDefault("oracle.breaker.min_requests", 5)
	v.SetDefault("oracle.breaker.failure_ratio", 0.6)

	// 推薦流程設定
	v.SetDefault("recommend.candidate_limit", 0)
	v.SetDefault("recommend.scan_factor", 4)
	v.SetDefault("recommend.min_viable_candidates", 10)
	v.SetDefault("recommend.min_results", 5)
	v.SetDefault("recommend.max_results", 15)
	v.SetDefault("recommend.min_avoided", 2)
	v.SetDefault("recommend.reject_threshold", 0.75)
	v.SetDefault("recommend.widen_time_slack_minutes", 10)
	v.SetDefault("recommend.description_max_len", 160)
	v.SetDefault("recommend.auto_meal_type", false)

	// 存放設定
	v.SetDefault("taxonomy.path", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.fixture_path", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.cleanup_interval", "5m")

	// 隊列設定
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.job_timeout", "3m")

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.burst", 10)

	// 遙測設定
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "recipe-recommendations")
	v.SetDefault("kafka.batch_timeout", "1s")

	v.SetDefault("dedup_window", "1s")
	v.SetDefault("max_body_bytes", 64*1024)
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	// 驗證 oracle 設定
	switch config.Oracle.Backend {
	case "openrouter":
		if !config.OpenRouter.Enabled {
			return fmt.Errorf("oracle backend openrouter is disabled")
		}
	case "ark":
		if !config.Ark.Enabled {
			return fmt.Errorf("oracle backend ark is disabled")
		}
	default:
		return fmt.Errorf("unknown oracle backend %q", config.Oracle.Backend)
	}
	if config.Oracle.MaxAttempts < 1 || config.Oracle.MaxAttempts > 2 {
		return fmt.Errorf("oracle max attempts must be 1 or 2")
	}
	if config.Oracle.AttemptTimeout <= 0 {
		return fmt.Errorf("invalid oracle attempt timeout")
	}
	if b := config.Oracle.Breaker; b.Enabled && (b.FailureRatio <= 0 || b.FailureRatio > 1) {
		return fmt.Errorf("invalid breaker failure ratio")
	}

	// 驗證推薦流程設定
	r := config.Recommend
	if r.MinResults <= 0 || r.MaxResults < r.MinResults {
		return fmt.Errorf("invalid recommend result bounds %d..%d", r.MinResults, r.MaxResults)
	}
	if r.RejectThreshold < 0 || r.RejectThreshold > 1 {
		return fmt.Errorf("invalid reject threshold")
	}
	if r.CandidateLimit < 0 || r.ScanFactor < 0 || r.MinAvoided < 0 || r.WidenTimeSlackMinutes < 0 {
		return fmt.Errorf("recommend limits must not be negative")
	}

	// 驗證存放設定
	switch config.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}

	// 驗證快取設定
	if config.Cache.Enabled {
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
		if config.Cache.Backend != "memory" && config.Cache.Backend != "redis" {
			return fmt.Errorf("unknown cache backend %q", config.Cache.Backend)
		}
	}

	// 驗證隊列設定
	if config.Queue.Workers <= 0 {
		return fmt.Errorf("invalid queue workers")
	}
	if config.Queue.MaxSize <= 0 {
		return fmt.Errorf("invalid queue max size")
	}

	// 驗證遙測設定
	if config.Kafka.Enabled && (len(config.Kafka.Brokers) == 0 || config.Kafka.Topic == "") {
		return fmt.Errorf("kafka requires brokers and topic")
	}

	return nil
}
