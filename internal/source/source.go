// Package source は外部プロバイダからコンテンツを取得し、
// 共通の正規化形式（model.NormalizedItem）に変換するソースアダプタを提供する。
package source

import (
	"context"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	// DefaultLookback は前回同期日時が無い場合の取得期間。
	DefaultLookback = 24 * time.Hour
	// DefaultLimit は1回の同期で取得する最大件数のデフォルト値。
	DefaultLimit = 100
	// maxPages はページ送りの上限。カーソルが進まないプロバイダに対する安全弁。
	maxPages = 50
)

// Credential は復号済みの認証情報を表す。
type Credential map[string]string

// Get は指定キーの値を返す。
func (c Credential) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Request はアダプタへの1ページ分の取得要求を表す。
type Request struct {
	Credential Credential
	Settings   map[string]any
	// Since より後に公開されたコンテンツのみを取得する。
	Since time.Time
	// Limit は残りの取得件数。アダプタはプロバイダの1ページ上限と比較して小さい方を使う。
	Limit int
	// Cursor はプロバイダ固有のページカーソル。空の場合は先頭ページ。
	Cursor string
}

// Page はアダプタが返す1ページ分の取得結果を表す。
type Page struct {
	Items []model.NormalizedItem
	// NextCursor が空の場合は次のページが無い。
	NextCursor string
}

// Adapter はソース種別ごとの取得・正規化を行うインターフェース。
type Adapter interface {
	// Type はアダプタが扱うソース種別を返す。
	Type() model.SourceType
	// CredentialKey は必須の認証情報キーを返す。認証情報が不要な場合は空文字列を返す。
	CredentialKey() string
	// FetchPage は1ページ分のコンテンツを取得する。
	FetchPage(ctx context.Context, req Request) (Page, error)
}

// Registry はソース種別からアダプタを引く。
type Registry struct {
	adapters map[model.SourceType]Adapter
}

// NewRegistry はアダプタを登録したRegistryを生成する。
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.SourceType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// Lookup はソース種別に対応するアダプタを返す。
// 未登録の種別の場合は恒久的な設定エラーを返す。
func (r *Registry) Lookup(t model.SourceType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, model.NewUnsupportedSourceError(t)
	}
	return a, nil
}

// FetchAll はカーソルを辿って最大req.Limit件のコンテンツを取得する。
// 途中でエラーが発生した場合は、それまでに取得できたコンテンツとエラーを返す。
func FetchAll(ctx context.Context, a Adapter, req Request) ([]model.NormalizedItem, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var items []model.NormalizedItem
	cursor := req.Cursor
	for page := 0; page < maxPages; page++ {
		pageReq := req
		pageReq.Limit = limit - len(items)
		pageReq.Cursor = cursor

		result, err := a.FetchPage(ctx, pageReq)
		items = appendBounded(items, result.Items, limit)
		if err != nil {
			return items, err
		}

		if result.NextCursor == "" || result.NextCursor == cursor || len(items) >= limit {
			break
		}
		cursor = result.NextCursor
	}

	return items, nil
}

func appendBounded(dst, src []model.NormalizedItem, limit int) []model.NormalizedItem {
	room := limit - len(dst)
	if room <= 0 {
		return dst
	}
	if len(src) > room {
		src = src[:room]
	}
	return append(dst, src...)
}

// pageSize は残り件数とプロバイダの1ページ上限から1ページの取得件数を決める。
func pageSize(remaining, providerMax int) int {
	if remaining <= 0 || remaining > providerMax {
		return providerMax
	}
	return remaining
}

// truncateRunes は文字列を最大n文字に切り詰める。
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// engagement はエンゲージメント指標を共通のメタデータ形式で返す。
// 分類器のソーシャルスコアはこの値を参照する。
func engagement(likes, shares, replies int) map[string]any {
	return map[string]any{
		"likes":   likes,
		"shares":  shares,
		"replies": replies,
	}
}
