package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したデータソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, user_id, source_type, name, is_active, credentials, settings,
	last_sync_at, sync_frequency_minutes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.DataSource, error) {
	src := &model.DataSource{}
	var credentials sql.NullString
	var settings []byte
	var lastSyncAt sql.NullTime

	if err := row.Scan(
		&src.ID, &src.UserID, &src.Type, &src.Name, &src.IsActive,
		&credentials, &settings, &lastSyncAt, &src.SyncFrequencyMinutes,
		&src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m, err := unmarshalJSONMap(settings)
	if err != nil {
		return nil, err
	}
	src.Settings = m
	src.Credentials = nullStringValue(credentials)
	src.LastSyncAt = nullTimeValue(lastSyncAt)
	return src, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.DataSource, error) {
	src, err := scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM data_sources WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return src, nil
}

// ListActive はアクティブな全ソースを最終同期が古い順に取得する。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.DataSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM data_sources
		 WHERE is_active
		 ORDER BY last_sync_at ASC NULLS FIRST`,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブなソースの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.DataSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソースの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソースの走査に失敗しました: %w", err)
	}

	return sources, nil
}

// TouchLastSync はソースのlast_sync_atを更新する。
func (r *PostgresSourceRepo) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE data_sources SET last_sync_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("最終同期日時の更新に失敗しました: %w", err)
	}
	return nil
}

// PostgresSyncRunRepo はPostgreSQLを使用した同期ログリポジトリ。
type PostgresSyncRunRepo struct {
	db *sql.DB
}

// NewPostgresSyncRunRepo はPostgresSyncRunRepoを生成する。
func NewPostgresSyncRunRepo(db *sql.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

// Append は同期ログを1件追加する。
func (r *PostgresSyncRunRepo) Append(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_logs (id, source_id, status, items_fetched, items_new, items_updated,
		                        error_message, duration_ms, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.SourceID, run.Status, run.ItemsFetched, run.ItemsNew, run.ItemsUpdated,
		nullString(run.ErrorMessage), run.Duration.Milliseconds(), run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("同期ログの保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ SourceRepository  = (*PostgresSourceRepo)(nil)
	_ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
)
