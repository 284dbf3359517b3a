// Package ingest はソースから取得したコンテンツの取り込み（重複排除と作成・更新の判定）と
// ソース1件分の同期処理を提供する。
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
)

// Result は取り込み1回分の件数を表す。
type Result struct {
	Fetched int
	New     int
	Updated int
}

// UpdatePolicy は既存コンテンツを再取得した際に上書きするフィールドを表す。
type UpdatePolicy struct {
	// Overwrite がfalseの場合、既存コンテンツは更新扱いとして数えるのみで内容は変更しない。
	Overwrite bool
	// RefreshLinks がtrueの場合はタイトル・URL・作成者も上書きする。
	RefreshLinks bool
}

// PolicyFor はソース種別ごとの更新ポリシーを返す。
func PolicyFor(t model.SourceType) UpdatePolicy {
	switch t {
	case model.SourceTypeTelegram:
		// メッセージは一度取り込んだら不変として扱う
		return UpdatePolicy{Overwrite: false}
	case model.SourceTypeRSS:
		return UpdatePolicy{Overwrite: true, RefreshLinks: true}
	default:
		return UpdatePolicy{Overwrite: true}
	}
}

// Reconciler は正規化済みコンテンツを (source_id, external_id) で既存レコードと突き合わせ、
// 作成または更新する。
type Reconciler struct {
	contentRepo repository.ContentRepository
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(contentRepo repository.ContentRepository) *Reconciler {
	return &Reconciler{contentRepo: contentRepo}
}

// Reconcile はitemsをソースのコンテンツとして取り込む。
// 途中で失敗した場合もそれまでに書き込んだコンテンツは残り、その時点までの件数とエラーを返す。
func (r *Reconciler) Reconcile(ctx context.Context, src *model.DataSource, items []model.NormalizedItem, now time.Time) (Result, error) {
	res := Result{Fetched: len(items)}
	policy := PolicyFor(src.Type)

	for i := range items {
		item := &items[i]
		if item.ExternalID == "" {
			continue
		}

		existing, err := r.contentRepo.FindBySourceAndExternalID(ctx, src.ID, item.ExternalID)
		if err != nil {
			return res, fmt.Errorf("既存コンテンツの検索に失敗しました: %w", err)
		}

		if existing == nil {
			inserted, err := r.contentRepo.Insert(ctx, newContentItem(src, item, now))
			if err != nil {
				return res, fmt.Errorf("コンテンツの作成に失敗しました: %w", err)
			}
			// 並行する同期が先に作成した場合は更新扱いとする
			if inserted {
				res.New++
			} else {
				res.Updated++
			}
			continue
		}

		if policy.Overwrite {
			applyUpdate(existing, item, policy, now)
			if err := r.contentRepo.Update(ctx, existing); err != nil {
				return res, fmt.Errorf("コンテンツの更新に失敗しました: %w", err)
			}
		}
		res.Updated++
	}

	return res, nil
}

func newContentItem(src *model.DataSource, item *model.NormalizedItem, now time.Time) *model.ContentItem {
	kind := item.Kind
	if kind == "" {
		kind = defaultKind(src.Type)
	}
	return &model.ContentItem{
		ID:          uuid.New().String(),
		SourceID:    src.ID,
		ExternalID:  item.ExternalID,
		Kind:        kind,
		Title:       item.Title,
		Text:        item.Text,
		URL:         item.URL,
		Author:      item.Author,
		PublishedAt: item.PublishedAt,
		Metadata:    item.Metadata,
		Raw:         item.Raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func applyUpdate(existing *model.ContentItem, item *model.NormalizedItem, policy UpdatePolicy, now time.Time) {
	existing.Text = item.Text
	existing.Metadata = item.Metadata
	existing.Raw = item.Raw
	if policy.RefreshLinks {
		existing.Title = item.Title
		existing.URL = item.URL
		existing.Author = item.Author
	}
	if existing.PublishedAt == nil {
		existing.PublishedAt = item.PublishedAt
	}
	existing.UpdatedAt = now
}

func defaultKind(t model.SourceType) model.ContentKind {
	switch t {
	case model.SourceTypeRSS:
		return model.ContentKindArticle
	case model.SourceTypeTelegram:
		return model.ContentKindMessage
	default:
		return model.ContentKindPost
	}
}
