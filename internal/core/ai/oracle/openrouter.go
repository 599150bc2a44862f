package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// OpenRouterClient OpenRouter chat completions 客戶端
type OpenRouterClient struct {
	client    *resty.Client
	model     string
	maxTokens int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenRouterClient 創建 OpenRouter 客戶端
func NewOpenRouterClient(cfg config.OpenRouterConfig) *OpenRouterClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("HTTP-Referer", cfg.Referer).
		SetHeader("X-Title", cfg.Title)

	return &OpenRouterClient{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Name 後端名稱
func (c *OpenRouterClient) Name() string { return "openrouter" }

// Complete 送出 chat completion 請求
func (c *OpenRouterClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:      maxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to OpenRouter: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		raw := resp.String()
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		common.LogError("OpenRouter returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("model", c.model),
		)
		return nil, &StatusError{Backend: c.Name(), Status: resp.StatusCode(), Body: raw}
	}

	var result chatResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse OpenRouter response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openrouter: %w", ErrEmptyCompletion)
	}

	model := result.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Content:          result.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		Latency:          latency,
	}, nil
}
