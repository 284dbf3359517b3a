package source

import (
	"fmt"
	"net/http"
)

// StatusClass はプロバイダのHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusOK は成功（2xx）。
	StatusOK StatusClass = iota
	// StatusPermanent は再試行しても成功しない失敗（認証失効、リソース消失など）。
	StatusPermanent
	// StatusTransient は再試行で回復しうる失敗（429/5xx）。
	StatusTransient
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == http.StatusTooManyRequests:
		return StatusTransient
	case statusCode == http.StatusRequestTimeout:
		return StatusTransient
	case statusCode >= 500:
		return StatusTransient
	default:
		return StatusPermanent
	}
}

// ProviderError はプロバイダ呼び出しの失敗を表す。
// StatusCodeが0の場合はネットワークエラーなどHTTP応答が得られなかった失敗を示す。
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s APIがステータス %d を返しました: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s APIの呼び出しに失敗しました: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s APIの呼び出しに失敗しました: %s", e.Provider, e.Message)
	}
}

// Unwrap は元のエラーを返す。
func (e *ProviderError) Unwrap() error { return e.Err }

// Transient は再試行で回復しうる失敗かを返す。
func (e *ProviderError) Transient() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return ClassifyStatus(e.StatusCode) == StatusTransient
}

// maxErrorBody はエラーメッセージに含める応答本文の最大文字数。
const maxErrorBody = 300

func newStatusError(provider string, statusCode int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    truncateRunes(body, maxErrorBody),
	}
}
