package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dailydigest/internal/model"
)

// PostgresBriefingRepo はPostgreSQLを使用したブリーフィングリポジトリ。
type PostgresBriefingRepo struct {
	db *sql.DB
}

// NewPostgresBriefingRepo はPostgresBriefingRepoを生成する。
func NewPostgresBriefingRepo(db *sql.DB) *PostgresBriefingRepo {
	return &PostgresBriefingRepo{db: db}
}

const briefingColumns = `id, user_id, date, status, text_summary, audio_url, audio_duration_seconds,
	content_items_count, generated_at, delivered_at, error_message, created_at, updated_at`

func scanBriefing(row rowScanner) (*model.Briefing, error) {
	b := &model.Briefing{}
	var textSummary, audioURL, errorMessage sql.NullString
	var audioDuration sql.NullInt64
	var generatedAt, deliveredAt sql.NullTime

	if err := row.Scan(
		&b.ID, &b.UserID, &b.Date, &b.Status, &textSummary, &audioURL, &audioDuration,
		&b.ContentItemsCount, &generatedAt, &deliveredAt, &errorMessage, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.TextSummary = nullStringValue(textSummary)
	b.AudioURL = nullStringValue(audioURL)
	b.ErrorMessage = nullStringValue(errorMessage)
	b.AudioDurationSeconds = int(audioDuration.Int64)
	b.GeneratedAt = nullTimeValue(generatedAt)
	b.DeliveredAt = nullTimeValue(deliveredAt)
	return b, nil
}

// dateParam はDATE列に渡す日付文字列を返す。
// セッションのタイムゾーンによる日付のずれを避けるため文字列で渡す。
func dateParam(date time.Time) string {
	return date.Format(model.DateLayout)
}

// FindByID は指定IDのブリーフィングを取得する。見つからない場合はnilを返す。
func (r *PostgresBriefingRepo) FindByID(ctx context.Context, id string) (*model.Briefing, error) {
	b, err := scanBriefing(r.db.QueryRowContext(ctx,
		`SELECT `+briefingColumns+` FROM briefings WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ブリーフィングの取得に失敗しました: %w", err)
	}
	return b, nil
}

// FindByUserAndDate はユーザーと日付でブリーフィングを取得する。見つからない場合はnilを返す。
func (r *PostgresBriefingRepo) FindByUserAndDate(ctx context.Context, userID string, date time.Time) (*model.Briefing, error) {
	b, err := scanBriefing(r.db.QueryRowContext(ctx,
		`SELECT `+briefingColumns+` FROM briefings WHERE user_id = $1 AND date = $2`,
		userID, dateParam(date),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ブリーフィングの取得に失敗しました: %w", err)
	}
	return b, nil
}

// BeginGeneration は (user_id, date) のブリーフィングをgeneratingに遷移させる。
// UNIQUE(user_id, date)制約を利用したINSERT ON CONFLICT DO UPDATE ... WHEREで実装し、
// 単一文で即時コミットされるため、並行するトリガーは進行中の状態を観測する。
// 遷移条件を満たさない場合は既存レコードとfalseを返す。
func (r *PostgresBriefingRepo) BeginGeneration(ctx context.Context, userID string, date time.Time, opts BeginOptions) (*model.Briefing, bool, error) {
	now := opts.Now
	staleBefore := now.Add(-opts.StaleAfter)

	b, err := scanBriefing(r.db.QueryRowContext(ctx,
		`INSERT INTO briefings (id, user_id, date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 'generating', $4, $4)
		 ON CONFLICT (user_id, date) DO UPDATE SET
		    status = 'generating',
		    error_message = NULL,
		    updated_at = EXCLUDED.updated_at
		 WHERE briefings.status IN ('pending', 'failed')
		    OR (briefings.status = 'generating' AND briefings.updated_at < $5)
		    OR (briefings.status = 'ready' AND $6)
		 RETURNING `+briefingColumns,
		uuid.New().String(), userID, dateParam(date), now, staleBefore, opts.Force,
	))
	if err == nil {
		return b, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("ブリーフィングの生成開始に失敗しました: %w", err)
	}

	// 遷移条件を満たさなかったため既存レコードを返す
	existing, err := r.FindByUserAndDate(ctx, userID, date)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("ブリーフィングが見つかりません: user_id=%s date=%s", userID, dateParam(date))
	}
	return existing, false, nil
}

// MarkFailed はブリーフィングをfailedに遷移させ、エラーメッセージを記録する。
// delivered状態のブリーフィングは変更しない。
func (r *PostgresBriefingRepo) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE briefings SET status = 'failed', error_message = $2, updated_at = $3
		 WHERE id = $1 AND status <> 'delivered'`,
		id, message, at,
	)
	if err != nil {
		return fmt.Errorf("ブリーフィングの失敗記録に失敗しました: %w", err)
	}
	return nil
}

// CompleteReady はブリーフィングをreadyに遷移させ、コンテンツリンクを同一トランザクションで置き換える。
func (r *PostgresBriefingRepo) CompleteReady(ctx context.Context, b *model.Briefing, links []model.BriefingContentLink) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE briefings SET
		    status = 'ready',
		    text_summary = $2,
		    audio_url = $3,
		    audio_duration_seconds = $4,
		    content_items_count = $5,
		    generated_at = $6,
		    error_message = NULL,
		    updated_at = $6
		 WHERE id = $1 AND status = 'generating'`,
		b.ID, nullString(b.TextSummary), nullString(b.AudioURL), b.AudioDurationSeconds,
		b.ContentItemsCount, nullTime(b.GeneratedAt),
	)
	if err != nil {
		return fmt.Errorf("ブリーフィングの更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ブリーフィングが生成中ではありません: %s", b.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM briefing_content WHERE briefing_id = $1`, b.ID); err != nil {
		return fmt.Errorf("既存のコンテンツリンクの削除に失敗しました: %w", err)
	}

	for _, link := range links {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO briefing_content (id, briefing_id, content_id, position, included_reason)
			 VALUES ($1, $2, $3, $4, $5)`,
			link.ID, b.ID, link.ContentID, link.Order, link.IncludedReason,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("コンテンツリンクが重複しています: content_id=%s: %w", link.ContentID, err)
		}
		if err != nil {
			return fmt.Errorf("コンテンツリンクの作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// MarkDelivered はready状態のブリーフィングをdeliveredに遷移させる。
func (r *PostgresBriefingRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE briefings SET status = 'delivered', delivered_at = $2, updated_at = $2
		 WHERE id = $1 AND status = 'ready'`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("ブリーフィングの配信記録に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// ListLinks はブリーフィングのコンテンツリンクを順序通りに取得する。
func (r *PostgresBriefingRepo) ListLinks(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, briefing_id, content_id, position, included_reason
		 FROM briefing_content WHERE briefing_id = $1 ORDER BY position ASC`,
		briefingID,
	)
	if err != nil {
		return nil, fmt.Errorf("コンテンツリンクの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var links []model.BriefingContentLink
	for rows.Next() {
		var l model.BriefingContentLink
		if err := rows.Scan(&l.ID, &l.BriefingID, &l.ContentID, &l.Order, &l.IncludedReason); err != nil {
			return nil, fmt.Errorf("コンテンツリンクの読み取りに失敗しました: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コンテンツリンクの走査に失敗しました: %w", err)
	}
	return links, nil
}

// compile-time interface check
var _ BriefingRepository = (*PostgresBriefingRepo)(nil)
