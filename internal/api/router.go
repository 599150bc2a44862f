package api

import (
	"context"
	"time"

	"recipe-recommender/internal/api/handlers/health"
	recommendHandler "recipe-recommender/internal/api/handlers/recommend"
	"recipe-recommender/internal/api/middleware"
	"recipe-recommender/internal/app"
	"recipe-recommender/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// 預設請求體大小限制 (64KB)
const defaultMaxBodySize = 64 << 10

// requestTimeout 單次請求上限：所有 oracle 嘗試加上篩選與組裝的餘裕
func requestTimeout(a *app.App) time.Duration {
	attempts := a.Config.Oracle.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return time.Duration(attempts)*a.Config.Oracle.AttemptTimeout + 10*time.Second
}

// SetupRouter 設置路由
func SetupRouter(a *app.App) (*gin.Engine, error) {
	cfg := a.Config
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.Logger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	router.Use(middleware.BodySizeLimit(maxBody))

	timeout := requestTimeout(a)
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	var breaker health.BreakerReporter
	if b, ok := a.Oracle.(health.BreakerReporter); ok {
		breaker = b
	}
	healthHandler := health.NewHandler(cfg.App.Version, a.Oracle.Name(), a, a.Queue, breaker)

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit))
	}
	api.Use(middleware.NewDeduplicator(cfg.DedupWindow).Middleware())
	{
		h := recommendHandler.NewHandler(a.Recommender, a.Queue, cfg.App.Debug)

		recGroup := api.Group("/recommendations")
		{
			recGroup.POST("", h.HandleRecommend)
			recGroup.POST("/batch", h.HandleBatch)
		}
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("oracle", a.Oracle.Name()),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Duration("timeout", timeout),
		zap.Int64("max_body_size", maxBody),
	)

	return router, nil
}
