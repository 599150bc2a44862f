package oracle

import (
	"context"
	"fmt"
	"time"

	"recipe-recommender/internal/infrastructure/config"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoClient 以 eino ChatModel 作為 oracle 後端
type EinoClient struct {
	chatModel model.BaseChatModel
	name      string
	modelName string
}

// NewEinoClient 包裝任意 eino ChatModel
func NewEinoClient(cm model.BaseChatModel, name, modelName string) *EinoClient {
	return &EinoClient{chatModel: cm, name: name, modelName: modelName}
}

// NewArkClient 創建火山方舟後端
func NewArkClient(ctx context.Context, cfg config.ArkConfig) (*EinoClient, error) {
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("init ark chat model: %w", err)
	}
	return NewEinoClient(cm, "ark", cfg.Model), nil
}

// Name 後端名稱
func (c *EinoClient) Name() string { return c.name }

// Complete 送出一次 Generate
func (c *EinoClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(req.System),
		schema.UserMessage(req.User),
	}
	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	msg, err := c.chatModel.Generate(ctx, msgs, opts...)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", c.name, err)
	}
	if msg == nil || msg.Content == "" {
		return nil, fmt.Errorf("%s: %w", c.name, ErrEmptyCompletion)
	}

	out := &Completion{
		Content: msg.Content,
		Model:   c.modelName,
		Latency: latency,
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		out.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
		out.CompletionTokens = msg.ResponseMeta.Usage.CompletionTokens
	}
	return out, nil
}
