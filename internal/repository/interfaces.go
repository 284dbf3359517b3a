// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// ListActive は有効かつ削除されていない全ユーザーを取得する。
	ListActive(ctx context.Context) ([]*model.User, error)
}

// PreferencesRepository はユーザー設定の永続化インターフェース。
type PreferencesRepository interface {
	// FindByUserID はユーザーの設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Preferences, error)
}

// SourceRepository はデータソースの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.DataSource, error)

	// ListActive はアクティブな全ソースを取得する。
	ListActive(ctx context.Context) ([]*model.DataSource, error)

	// TouchLastSync はソースのlast_sync_atを更新する。
	TouchLastSync(ctx context.Context, id string, at time.Time) error
}

// SyncRunRepository は同期ログの永続化インターフェース。
type SyncRunRepository interface {
	// Append は同期ログを1件追加する。
	Append(ctx context.Context, run *model.SyncRun) error
}

// ContentRepository はコンテンツの永続化インターフェース。
type ContentRepository interface {
	// FindBySourceAndExternalID は (source_id, external_id) でコンテンツを検索する。
	// 見つからない場合はnilを返す。
	FindBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*model.ContentItem, error)

	// Insert はコンテンツを作成する。
	// 同じ (source_id, external_id) が既に存在する場合は何もせずfalseを返す。
	Insert(ctx context.Context, item *model.ContentItem) (bool, error)

	// Update はコンテンツの可変フィールドを更新する。
	Update(ctx context.Context, item *model.ContentItem) error

	// ListUnclassified はsince以降に公開された未分類のコンテンツを最大limit件取得する。
	ListUnclassified(ctx context.Context, since time.Time, limit int) ([]model.PendingContent, error)

	// ListCandidates はユーザーのアクティブなソースのうちsince以降に公開されたコンテンツを
	// 分類結果（存在する場合）と共に関連度・重要度の降順で最大limit件取得する。
	ListCandidates(ctx context.Context, userID string, since time.Time, limit int) ([]model.ClassifiedContent, error)
}

// ClassificationRepository は分類結果の永続化インターフェース。
type ClassificationRepository interface {
	// Save は分類結果を保存する。同じコンテンツの分類結果が既に存在する場合は置き換える。
	Save(ctx context.Context, c *model.Classification) error

	// FindByContentID はコンテンツの分類結果を取得する。見つからない場合はnilを返す。
	FindByContentID(ctx context.Context, contentID string) (*model.Classification, error)
}

// BeginOptions はブリーフィング生成開始時の再生成条件を表す。
type BeginOptions struct {
	// Now は遷移時刻。
	Now time.Time
	// StaleAfter を超えて更新されていないgenerating状態は再生成の対象とする。
	StaleAfter time.Duration
	// Force がtrueの場合はready状態も再生成の対象とする。
	Force bool
}

// BriefingRepository はブリーフィングの永続化インターフェース。
type BriefingRepository interface {
	// FindByID は指定IDのブリーフィングを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Briefing, error)

	// FindByUserAndDate はユーザーと日付でブリーフィングを取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID string, date time.Time) (*model.Briefing, error)

	// BeginGeneration は (user_id, date) のブリーフィングを作成または取得し、generatingに遷移させて即時コミットする。
	// 遷移できない状態（delivered、進行中のgenerating、readyなど）の場合は既存レコードとfalseを返す。
	BeginGeneration(ctx context.Context, userID string, date time.Time, opts BeginOptions) (*model.Briefing, bool, error)

	// MarkFailed はブリーフィングをfailedに遷移させ、エラーメッセージを記録する。
	MarkFailed(ctx context.Context, id, message string, at time.Time) error

	// CompleteReady はブリーフィングをreadyに遷移させ、コンテンツリンクを同一トランザクションで置き換える。
	CompleteReady(ctx context.Context, b *model.Briefing, links []model.BriefingContentLink) error

	// MarkDelivered はready状態のブリーフィングをdeliveredに遷移させる。
	// 遷移した場合はtrueを返す。
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)

	// ListLinks はブリーフィングのコンテンツリンクを順序通りに取得する。
	ListLinks(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error)
}
