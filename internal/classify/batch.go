package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
)

const (
	// DefaultBatchLookback は分類対象とするコンテンツの公開期間。
	DefaultBatchLookback = 24 * time.Hour
	// DefaultBatchSize は1回のバッチで分類する最大件数。
	DefaultBatchSize = 100
)

// BatchResult はバッチ1回分の処理件数を表す。
type BatchResult struct {
	Selected   int
	Classified int
	Failed     int
}

// BatchConfig はBatchProcessorの設定。
type BatchConfig struct {
	Lookback  time.Duration
	BatchSize int
}

// BatchProcessor は未分類コンテンツを取得し、分類結果を保存する。
// 実行のたびに「現在未分類のコンテンツ」を問い合わせるため、同期処理との実行順序に依存しない。
type BatchProcessor struct {
	contentRepo        repository.ContentRepository
	classificationRepo repository.ClassificationRepository
	prefsRepo          repository.PreferencesRepository
	classifier         Classifier
	logger             *slog.Logger
	cfg                BatchConfig
	now                func() time.Time
}

// NewBatchProcessor はBatchProcessorの新しいインスタンスを生成する。
func NewBatchProcessor(
	contentRepo repository.ContentRepository,
	classificationRepo repository.ClassificationRepository,
	prefsRepo repository.PreferencesRepository,
	classifier Classifier,
	logger *slog.Logger,
	cfg BatchConfig,
) *BatchProcessor {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultBatchLookback
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &BatchProcessor{
		contentRepo:        contentRepo,
		classificationRepo: classificationRepo,
		prefsRepo:          prefsRepo,
		classifier:         classifier,
		logger:             logger,
		cfg:                cfg,
		now:                time.Now,
	}
}

// Run は未分類コンテンツを最大BatchSize件分類して保存する。
// 個々のコンテンツの失敗はログに記録して次のコンテンツに進む。
func (p *BatchProcessor) Run(ctx context.Context) (BatchResult, error) {
	now := p.now().UTC()

	pending, err := p.contentRepo.ListUnclassified(ctx, now.Add(-p.cfg.Lookback), p.cfg.BatchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("未分類コンテンツの取得に失敗しました: %w", err)
	}

	res := BatchResult{Selected: len(pending)}
	if len(pending) == 0 {
		p.logger.Info("分類対象のコンテンツはありません")
		return res, nil
	}

	prefsCache := make(map[string]*model.Preferences)
	for _, pc := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		prefs, err := p.preferences(ctx, prefsCache, pc.UserID)
		if err != nil {
			return res, err
		}

		if err := p.classifyOne(ctx, pc.Item, prefs, now); err != nil {
			res.Failed++
			p.logger.Error("コンテンツの分類に失敗しました",
				slog.String("content_id", pc.Item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Classified++
	}

	p.logger.Info("分類バッチが完了しました",
		slog.Int("selected", res.Selected),
		slog.Int("classified", res.Classified),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

func (p *BatchProcessor) preferences(ctx context.Context, cache map[string]*model.Preferences, userID string) (*model.Preferences, error) {
	if prefs, ok := cache[userID]; ok {
		return prefs, nil
	}
	prefs, err := p.prefsRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}
	cache[userID] = prefs
	return prefs, nil
}

func (p *BatchProcessor) classifyOne(ctx context.Context, item model.ContentItem, prefs *model.Preferences, now time.Time) error {
	c, err := p.classifier.Classify(ctx, item, prefs)
	if err != nil {
		return err
	}
	c.ID = uuid.New().String()
	c.ContentID = item.ID
	c.ClassifiedAt = now
	return p.classificationRepo.Save(ctx, c)
}
