package oracle

import (
	"context"
	"fmt"

	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"

	"go.uber.org/zap"
)

// New 依設定建立 oracle 後端
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	var (
		client Client
		model  string
	)
	switch cfg.Oracle.Backend {
	case "openrouter":
		client = NewOpenRouterClient(cfg.OpenRouter)
		model = cfg.OpenRouter.Model
	case "ark":
		ac, err := NewArkClient(ctx, cfg.Ark)
		if err != nil {
			return nil, err
		}
		client = ac
		model = cfg.Ark.Model
	default:
		return nil, fmt.Errorf("unknown oracle backend %q", cfg.Oracle.Backend)
	}

	if cfg.Oracle.Breaker.Enabled {
		client = NewBreakerClient(client, cfg.Oracle.Breaker)
	}

	common.LogInfo("Oracle backend initialized",
		zap.String("backend", client.Name()),
		zap.String("model", model),
		zap.Bool("breaker", cfg.Oracle.Breaker.Enabled),
	)
	return client, nil
}
