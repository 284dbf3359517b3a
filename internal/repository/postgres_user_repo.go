package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/dailydigest/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, timezone, to_char(briefing_time, 'HH24:MI'), is_active, created_at, updated_at`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// 削除済みのユーザーは見つからないものとして扱う。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Timezone, &user.BriefingTime,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	return user, nil
}

// ListActive は有効かつ削除されていない全ユーザーを取得する。
func (r *PostgresUserRepo) ListActive(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE is_active AND deleted_at IS NULL
		 ORDER BY briefing_time ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("有効なユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.Timezone, &user.BriefingTime,
			&user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ユーザーの読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ユーザーの走査に失敗しました: %w", err)
	}

	return users, nil
}

// PostgresPreferencesRepo はPostgreSQLを使用したユーザー設定リポジトリ。
type PostgresPreferencesRepo struct {
	db *sql.DB
}

// NewPostgresPreferencesRepo はPostgresPreferencesRepoを生成する。
func NewPostgresPreferencesRepo(db *sql.DB) *PostgresPreferencesRepo {
	return &PostgresPreferencesRepo{db: db}
}

// FindByUserID はユーザーの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresPreferencesRepo) FindByUserID(ctx context.Context, userID string) (*model.Preferences, error) {
	prefs := &model.Preferences{UserID: userID}
	var minRelevance sql.NullFloat64
	var maxItems sql.NullInt64
	var topics pq.StringArray

	err := r.db.QueryRowContext(ctx,
		`SELECT min_relevance_score, max_items_per_briefing, language, voice_preference, topics_interest
		 FROM user_preferences WHERE user_id = $1`,
		userID,
	).Scan(&minRelevance, &maxItems, &prefs.Language, &prefs.VoicePreference, &topics)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}

	if minRelevance.Valid {
		v := minRelevance.Float64
		prefs.MinRelevanceScore = &v
	}
	if maxItems.Valid {
		v := int(maxItems.Int64)
		prefs.MaxItemsPerBriefing = &v
	}
	prefs.TopicsInterest = []string(topics)

	return prefs, nil
}

// compile-time interface check
var (
	_ UserRepository        = (*PostgresUserRepo)(nil)
	_ PreferencesRepository = (*PostgresPreferencesRepo)(nil)
)
