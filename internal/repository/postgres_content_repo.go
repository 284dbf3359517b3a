package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/dailydigest/internal/model"
)

// psql はPostgreSQLのプレースホルダ形式を使うクエリビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresContentRepo はPostgreSQLを使用したコンテンツリポジトリ。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

var contentColumns = []string{
	"ci.id", "ci.source_id", "ci.external_id", "ci.content_type", "ci.title", "ci.text",
	"ci.url", "ci.author", "ci.published_at", "ci.metadata", "ci.raw_data",
	"ci.created_at", "ci.updated_at",
}

var classificationColumns = []string{
	"cc.id", "cc.category", "cc.relevance_score", "cc.importance_score",
	"cc.social_score", "cc.personal_score", "cc.topics", "cc.model_version", "cc.classified_at",
}

// contentScan はcontentColumnsの読み取り先を保持する。
type contentScan struct {
	item        model.ContentItem
	title       sql.NullString
	text        sql.NullString
	url         sql.NullString
	author      sql.NullString
	publishedAt sql.NullTime
	metadata    []byte
	raw         []byte
}

func (s *contentScan) dest() []any {
	return []any{
		&s.item.ID, &s.item.SourceID, &s.item.ExternalID, &s.item.Kind,
		&s.title, &s.text, &s.url, &s.author, &s.publishedAt,
		&s.metadata, &s.raw, &s.item.CreatedAt, &s.item.UpdatedAt,
	}
}

func (s *contentScan) result() (model.ContentItem, error) {
	item := s.item
	item.Title = nullStringValue(s.title)
	item.Text = nullStringValue(s.text)
	item.URL = nullStringValue(s.url)
	item.Author = nullStringValue(s.author)
	item.PublishedAt = nullTimeValue(s.publishedAt)
	m, err := unmarshalJSONMap(s.metadata)
	if err != nil {
		return model.ContentItem{}, err
	}
	item.Metadata = m
	if len(s.raw) > 0 {
		item.Raw = append([]byte(nil), s.raw...)
	}
	return item, nil
}

// FindBySourceAndExternalID は (source_id, external_id) でコンテンツを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*model.ContentItem, error) {
	query, args, err := psql.Select(contentColumns...).
		From("content_items ci").
		Where(sq.Eq{"ci.source_id": sourceID, "ci.external_id": externalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	var s contentScan
	err = r.db.QueryRowContext(ctx, query, args...).Scan(s.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツの検索に失敗しました: %w", err)
	}

	item, err := s.result()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Insert はコンテンツを作成する。
// UNIQUE(source_id, external_id)制約によるINSERT ON CONFLICT DO NOTHINGで実装し、
// 既に存在する場合はfalseを返す。
func (r *PostgresContentRepo) Insert(ctx context.Context, item *model.ContentItem) (bool, error) {
	metadata, err := marshalJSONMap(item.Metadata)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO content_items (id, source_id, external_id, content_type, title, text, url, author,
		                            published_at, metadata, raw_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (source_id, external_id) DO NOTHING`,
		item.ID, item.SourceID, item.ExternalID, item.Kind,
		nullString(item.Title), nullString(item.Text), nullString(item.URL), nullString(item.Author),
		nullTime(item.PublishedAt), metadata, nullRaw(item.Raw),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("コンテンツの作成に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// Update はコンテンツの可変フィールドを更新する。
func (r *PostgresContentRepo) Update(ctx context.Context, item *model.ContentItem) error {
	metadata, err := marshalJSONMap(item.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE content_items SET
		    title = $2,
		    text = $3,
		    url = $4,
		    author = $5,
		    metadata = $6,
		    raw_data = $7,
		    updated_at = $8
		 WHERE id = $1`,
		item.ID,
		nullString(item.Title), nullString(item.Text), nullString(item.URL), nullString(item.Author),
		metadata, nullRaw(item.Raw), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コンテンツの更新に失敗しました: %w", err)
	}
	return nil
}

// buildListUnclassifiedQuery は未分類コンテンツ取得クエリを構築する。
// 公開日時が無いコンテンツは作成日時で判定する。
func buildListUnclassifiedQuery(since time.Time, limit int) (string, []any, error) {
	cols := append(append([]string{}, contentColumns...), "ds.user_id")
	return psql.Select(cols...).
		From("content_items ci").
		Join("data_sources ds ON ds.id = ci.source_id").
		LeftJoin("content_classifications cc ON cc.content_id = ci.id").
		Where(sq.Eq{"cc.id": nil}).
		Where(sq.Expr("COALESCE(ci.published_at, ci.created_at) >= ?", since)).
		OrderBy("ci.created_at ASC").
		Limit(uint64(limit)).
		ToSql()
}

// ListUnclassified はsince以降に公開された未分類のコンテンツを最大limit件取得する。
func (r *PostgresContentRepo) ListUnclassified(ctx context.Context, since time.Time, limit int) ([]model.PendingContent, error) {
	query, args, err := buildListUnclassifiedQuery(since, limit)
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("未分類コンテンツの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var pending []model.PendingContent
	for rows.Next() {
		var s contentScan
		var userID string
		if err := rows.Scan(append(s.dest(), &userID)...); err != nil {
			return nil, fmt.Errorf("未分類コンテンツの読み取りに失敗しました: %w", err)
		}
		item, err := s.result()
		if err != nil {
			return nil, err
		}
		pending = append(pending, model.PendingContent{Item: item, UserID: userID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未分類コンテンツの走査に失敗しました: %w", err)
	}

	return pending, nil
}

// buildListCandidatesQuery はブリーフィング候補取得クエリを構築する。
func buildListCandidatesQuery(userID string, since time.Time, limit int) (string, []any, error) {
	cols := append(append([]string{}, contentColumns...), classificationColumns...)
	return psql.Select(cols...).
		From("content_items ci").
		Join("data_sources ds ON ds.id = ci.source_id").
		LeftJoin("content_classifications cc ON cc.content_id = ci.id").
		Where(sq.Eq{"ds.user_id": userID, "ds.is_active": true}).
		Where(sq.Expr("COALESCE(ci.published_at, ci.created_at) >= ?", since)).
		OrderBy("cc.relevance_score DESC NULLS LAST", "cc.importance_score DESC NULLS LAST", "ci.published_at DESC").
		Limit(uint64(limit)).
		ToSql()
}

// ListCandidates はユーザーのアクティブなソースのうちsince以降に公開されたコンテンツを
// 分類結果（存在する場合）と共に関連度・重要度の降順で最大limit件取得する。
func (r *PostgresContentRepo) ListCandidates(ctx context.Context, userID string, since time.Time, limit int) ([]model.ClassifiedContent, error) {
	query, args, err := buildListCandidatesQuery(userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ブリーフィング候補の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var candidates []model.ClassifiedContent
	for rows.Next() {
		var s contentScan
		var ccID, category, modelVersion sql.NullString
		var relevance, importance, social, personal sql.NullFloat64
		var topics pq.StringArray
		var classifiedAt sql.NullTime
		dest := append(s.dest(), &ccID, &category, &relevance, &importance,
			&social, &personal, &topics, &modelVersion, &classifiedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("ブリーフィング候補の読み取りに失敗しました: %w", err)
		}

		item, err := s.result()
		if err != nil {
			return nil, err
		}
		candidate := model.ClassifiedContent{Item: item}
		if ccID.Valid {
			candidate.Classification = &model.Classification{
				ID:              ccID.String,
				ContentID:       item.ID,
				Category:        model.Category(category.String),
				RelevanceScore:  relevance.Float64,
				ImportanceScore: importance.Float64,
				SocialScore:     social.Float64,
				PersonalScore:   personal.Float64,
				Topics:          []string(topics),
				ModelVersion:    modelVersion.String,
				ClassifiedAt:    classifiedAt.Time,
			}
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブリーフィング候補の走査に失敗しました: %w", err)
	}

	return candidates, nil
}

// PostgresClassificationRepo はPostgreSQLを使用した分類結果リポジトリ。
type PostgresClassificationRepo struct {
	db *sql.DB
}

// NewPostgresClassificationRepo はPostgresClassificationRepoを生成する。
func NewPostgresClassificationRepo(db *sql.DB) *PostgresClassificationRepo {
	return &PostgresClassificationRepo{db: db}
}

// Save は分類結果を保存する。
// UNIQUE(content_id)制約を利用し、既存の分類結果は新しいレコードとして置き換える。
func (r *PostgresClassificationRepo) Save(ctx context.Context, c *model.Classification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO content_classifications (id, content_id, category, relevance_score, importance_score,
		                                      social_score, personal_score, topics, model_version, classified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (content_id) DO UPDATE SET
		    id = EXCLUDED.id,
		    category = EXCLUDED.category,
		    relevance_score = EXCLUDED.relevance_score,
		    importance_score = EXCLUDED.importance_score,
		    social_score = EXCLUDED.social_score,
		    personal_score = EXCLUDED.personal_score,
		    topics = EXCLUDED.topics,
		    model_version = EXCLUDED.model_version,
		    classified_at = EXCLUDED.classified_at`,
		c.ID, c.ContentID, c.Category, c.RelevanceScore, c.ImportanceScore,
		c.SocialScore, c.PersonalScore, pq.Array(c.Topics), c.ModelVersion, c.ClassifiedAt,
	)
	if err != nil {
		return fmt.Errorf("分類結果の保存に失敗しました: %w", err)
	}
	return nil
}

// FindByContentID はコンテンツの分類結果を取得する。見つからない場合はnilを返す。
func (r *PostgresClassificationRepo) FindByContentID(ctx context.Context, contentID string) (*model.Classification, error) {
	c := &model.Classification{}
	var topics pq.StringArray
	err := r.db.QueryRowContext(ctx,
		`SELECT id, content_id, category, relevance_score, importance_score,
		        social_score, personal_score, topics, model_version, classified_at
		 FROM content_classifications WHERE content_id = $1`,
		contentID,
	).Scan(&c.ID, &c.ContentID, &c.Category, &c.RelevanceScore, &c.ImportanceScore,
		&c.SocialScore, &c.PersonalScore, &topics, &c.ModelVersion, &c.ClassifiedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("分類結果の取得に失敗しました: %w", err)
	}
	c.Topics = []string(topics)
	return c, nil
}

// compile-time interface check
var (
	_ ContentRepository        = (*PostgresContentRepo)(nil)
	_ ClassificationRepository = (*PostgresClassificationRepo)(nil)
)
