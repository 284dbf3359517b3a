// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// API利用者に返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, source, briefing, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSourceNotFound     = "SOURCE_NOT_FOUND"
	ErrCodeUnsupportedSource  = "UNSUPPORTED_SOURCE"
	ErrCodeMissingCredential  = "MISSING_CREDENTIAL"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeBriefingNotFound   = "BRIEFING_NOT_FOUND"
	ErrCodeBriefingNotReady   = "BRIEFING_NOT_READY"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeQueueFull          = "QUEUE_FULL"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeNoContentAvailable = "NO_CONTENT"
)

// NoContentMessage はブリーフィング対象のコンテンツが無い場合に記録するメッセージ。
const NoContentMessage = "No content available for briefing"

// NewSourceNotFoundError はソース未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", sourceID),
		Category: "source",
		Action:   "ソースIDを確認してください。",
	}
}

// NewUnsupportedSourceError は未対応のソース種別エラーを生成する。
func NewUnsupportedSourceError(sourceType SourceType) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedSource,
		Message:  fmt.Sprintf("未対応のソース種別です: %s", sourceType),
		Category: "source",
		Action:   "twitter、facebook、instagram、telegram、rss のいずれかを指定してください。",
	}
}

// NewMissingCredentialError は認証情報が無い、または復号できない場合のエラーを生成する。
func NewMissingCredentialError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  fmt.Sprintf("ソースの認証情報がありません: %s", sourceID),
		Category: "source",
		Action:   "ソースを再接続してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", userID),
		Category: "validation",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewBriefingNotFoundError はブリーフィング未検出エラーを生成する。
func NewBriefingNotFoundError(briefingID string) *APIError {
	return &APIError{
		Code:     ErrCodeBriefingNotFound,
		Message:  fmt.Sprintf("指定されたブリーフィングが見つかりません: %s", briefingID),
		Category: "briefing",
		Action:   "ブリーフィングIDを確認してください。",
	}
}

// NewBriefingNotReadyError は配信済みにできない状態のブリーフィングに対するエラーを生成する。
func NewBriefingNotReadyError(status BriefingStatus) *APIError {
	return &APIError{
		Code:     ErrCodeBriefingNotReady,
		Message:  fmt.Sprintf("ブリーフィングは配信可能な状態ではありません: %s", status),
		Category: "briefing",
		Action:   "生成が完了（ready）してから配信済みにしてください。",
	}
}

// NewInvalidDateError は日付の形式が不正な場合のエラーを生成する。
func NewInvalidDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", value),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewQueueFullError はタスクキューが満杯の場合のエラーを生成する。
func NewQueueFullError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueFull,
		Message:  "タスクキューが満杯です。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なAPIトークンを Authorization ヘッダーに指定してください。",
	}
}

// NewRateLimitedError はAPIのレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// TransientError は一時的な障害（ネットワーク、レート制限など）を表す。
// タスクキューはこのエラーのみを再試行する。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient は一時的な障害であることを示す。
func (e *TransientError) Transient() bool { return true }

// NewTransientError はerrを一時的な障害としてラップする。
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient はエラーチェーンに一時的な障害が含まれるかを返す。
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
