// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// ContentKind はコンテンツの種別を表す。
type ContentKind string

const (
	ContentKindPost         ContentKind = "post"
	ContentKindArticle      ContentKind = "article"
	ContentKindMessage      ContentKind = "message"
	ContentKindNotification ContentKind = "notification"
)

// ContentItem はソースから取得し正規化したコンテンツ1件を表す。
// (SourceID, ExternalID) の組はソース内で一意であり、同期間の重複排除キーとなる。
type ContentItem struct {
	ID          string
	SourceID    string
	ExternalID  string
	Kind        ContentKind
	Title       string
	Text        string
	URL         string
	Author      string
	PublishedAt *time.Time
	Metadata    map[string]any
	Raw         json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizedItem はソースアダプタが返す未保存の正規化済みコンテンツを表す。
// Reconcilerに渡され、ContentItemとして作成または更新される。
type NormalizedItem struct {
	ExternalID  string
	Kind        ContentKind
	Title       string
	Text        string
	URL         string
	Author      string
	PublishedAt *time.Time
	Metadata    map[string]any
	Raw         json.RawMessage
}

// ClassifiedContent はコンテンツと分類結果の組を表す。
// 分類前のコンテンツではClassificationはnilとなる。
type ClassifiedContent struct {
	Item           ContentItem
	Classification *Classification
}

// Classified は分類結果が存在するかを返す。
func (c ClassifiedContent) Classified() bool {
	return c.Classification != nil
}

// PendingContent は未分類コンテンツと所有ユーザーの組を表す。
type PendingContent struct {
	Item   ContentItem
	UserID string
}
