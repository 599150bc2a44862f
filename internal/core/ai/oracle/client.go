// Package oracle 封裝排序 oracle 的 LLM 後端。
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen 熔斷器開啟，請求未送出
var ErrCircuitOpen = errors.New("oracle circuit open")

// ErrEmptyCompletion 後端回傳空內容
var ErrEmptyCompletion = errors.New("empty completion")

// Request 表示發送到 oracle 的請求
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completion 表示 oracle 的原始回覆
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Client 定義 oracle 後端介面
type Client interface {
	// Complete 送出一次請求並回傳原始文字
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// Name 後端名稱，用於日誌與指標
	Name() string
}

// StatusError 後端回傳非 2xx 狀態
type StatusError struct {
	Backend string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.Status, e.Body)
}
