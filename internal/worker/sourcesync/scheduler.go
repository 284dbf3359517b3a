// Package sourcesync は同期間隔に達したデータソースを定期的に検出し、
// 同期タスクを投入するスケジューラを提供する。
package sourcesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dailydigest/internal/repository"
)

// Enqueuer はソース同期タスクを投入するインターフェース。
type Enqueuer interface {
	EnqueueSync(sourceID string) error
}

// Scheduler は同期対象ソースの検出と同期タスクの投入を行う。
// 並列数の制御はタスクキューのワーカー数に委ねる。
type Scheduler struct {
	sourceRepo repository.SourceRepository
	enqueuer   Enqueuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(sourceRepo repository.SourceRepository, enqueuer Enqueuer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sourceRepo: sourceRepo,
		enqueuer:   enqueuer,
		logger:     logger,
		now:        time.Now,
	}
}

// Start はinterval間隔でスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はアクティブなソースのうち同期間隔に達したものを投入し、投入件数を返す。
// 投入に失敗したソースは次のサイクルで再び対象となる。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	sources, err := s.sourceRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("アクティブなソースの取得に失敗しました: %w", err)
	}

	now := s.now()
	enqueued := 0
	for _, src := range sources {
		if !src.DueForSync(now) {
			continue
		}
		if err := s.enqueuer.EnqueueSync(src.ID); err != nil {
			s.logger.Error("同期タスクの投入に失敗しました",
				slog.String("source_id", src.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		enqueued++
	}

	if enqueued == 0 {
		s.logger.Info("同期対象のソースはありません",
			slog.Int("active_sources", len(sources)),
		)
		return 0, nil
	}

	s.logger.Info("同期タスクを投入しました",
		slog.Int("count", enqueued),
		slog.Int("active_sources", len(sources)),
	)
	return enqueued, nil
}
