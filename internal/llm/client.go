// Package llm はOpenAI互換のチャット補完APIクライアントと、
// それを使ったブリーフィング本文の要約生成を提供する。
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4-turbo-preview"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 300
)

// ErrEmptyCompletion は応答に補完結果が含まれていないことを示す。
var ErrEmptyCompletion = errors.New("補完結果が空です")

// Message はチャットの1メッセージを表す。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage はsystemロールのメッセージを返す。
func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }

// UserMessage はuserロールのメッセージを返す。
func UserMessage(content string) Message { return Message{Role: "user", Content: content} }

// CompletionRequest はチャット補完の要求を表す。
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer はチャット補完を行うインターフェース。
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Model は使用するモデル名を返す。
	Model() string
}

// Config はOpenAIClientの設定。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient はOpenAI互換のチャット補完APIクライアント。
type OpenAIClient struct {
	client *resty.Client
	model  string
}

var _ Completer = (*OpenAIClient)(nil)

// NewOpenAIClient はOpenAIClientを生成する。
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout)

	return &OpenAIClient{client: c, model: cfg.Model}
}

// Model は使用するモデル名を返す。
func (c *OpenAIClient) Model() string { return c.model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete はチャット補完を実行し、最初の候補の本文を返す。
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&body).
		Post("/v1/chat/completions")
	if err != nil {
		return "", &StatusError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newStatusError(resp.StatusCode(), resp.String())
	}

	var cr chatResponse
	if err := json.Unmarshal(resp.Body(), &cr); err != nil {
		return "", fmt.Errorf("補完応答の解析に失敗しました: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return cr.Choices[0].Message.Content, nil
}

// StatusError はAPI呼び出しの失敗を表す。
// StatusCodeが0の場合はHTTP応答が得られなかった失敗を示す。
type StatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func newStatusError(code int, body string) *StatusError {
	r := []rune(body)
	if len(r) > maxErrorBody {
		body = string(r[:maxErrorBody])
	}
	return &StatusError{StatusCode: code, Body: body}
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("APIの呼び出しに失敗しました: %v", e.Err)
	}
	return fmt.Sprintf("APIがステータス %d を返しました: %s", e.StatusCode, e.Body)
}

// Unwrap は元のエラーを返す。
func (e *StatusError) Unwrap() error { return e.Err }

// Transient は再試行で回復しうる失敗かを返す。
func (e *StatusError) Transient() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
