// Package pipeline は同期・分類・ブリーフィング生成の各サービスをタスクキューに結び付け、
// 外部から呼び出すトリガー操作を提供する。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/dailydigest/internal/briefing"
	"github.com/hitoshi/dailydigest/internal/classify"
	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
	"github.com/hitoshi/dailydigest/internal/worker/queue"
	"github.com/hitoshi/dailydigest/internal/worker/sourcesync"
)

// TaskQueue はタスクを投入するキューのインターフェース。
type TaskQueue interface {
	Enqueue(task queue.Task) error
}

// SyncService はソース1件を同期するサービスのインターフェース。
type SyncService interface {
	Sync(ctx context.Context, sourceID string) (*model.SyncRun, error)
}

// ClassificationService は未分類コンテンツを一括分類するサービスのインターフェース。
type ClassificationService interface {
	Run(ctx context.Context) (classify.BatchResult, error)
}

// BriefingService はブリーフィングの生成と配信済みの記録を行うサービスのインターフェース。
type BriefingService interface {
	Generate(ctx context.Context, userID string, date time.Time, opts briefing.GenerateOptions) (*model.Briefing, error)
	Get(ctx context.Context, briefingID string) (*model.Briefing, error)
	Links(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error)
	MarkDelivered(ctx context.Context, briefingID string) (*model.Briefing, error)
}

// Dispatcher はトリガー操作を受け付け、対応するタスクをキューに投入する。
// 同じ対象のタスクが未実行のまま残っている間は重複して投入しない。
type Dispatcher struct {
	queue      TaskQueue
	sources    repository.SourceRepository
	users      repository.UserRepository
	syncer     SyncService
	classifier ClassificationService
	briefings  BriefingService
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

var (
	_ briefing.Enqueuer   = (*Dispatcher)(nil)
	_ sourcesync.Enqueuer = (*Dispatcher)(nil)
)

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	q TaskQueue,
	sources repository.SourceRepository,
	users repository.UserRepository,
	syncer SyncService,
	classifier ClassificationService,
	briefings BriefingService,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:      q,
		sources:    sources,
		users:      users,
		syncer:     syncer,
		classifier: classifier,
		briefings:  briefings,
		logger:     logger,
		pending:    make(map[string]struct{}),
	}
}

// TriggerSync はソースの存在を確認してから同期タスクを投入する。
func (d *Dispatcher) TriggerSync(ctx context.Context, sourceID string) error {
	src, err := d.sources.FindByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return model.NewSourceNotFoundError(sourceID)
	}
	return d.EnqueueSync(sourceID)
}

// EnqueueSync は同期タスクを投入する。
// 同期ログの重複や取得期間のずれを避けるため、同期タスクは再試行しない。
func (d *Dispatcher) EnqueueSync(sourceID string) error {
	return d.enqueue(queue.Task{
		Kind: queue.KindSync,
		Key:  sourceID,
		Run: func(ctx context.Context) error {
			_, err := d.syncer.Sync(ctx, sourceID)
			return err
		},
	})
}

// TriggerClassificationBatch は未分類コンテンツの一括分類タスクを投入する。
func (d *Dispatcher) TriggerClassificationBatch() error {
	return d.enqueue(queue.Task{
		Kind:  queue.KindClassify,
		Key:   "batch",
		Retry: true,
		Run: func(ctx context.Context) error {
			_, err := d.classifier.Run(ctx)
			return err
		},
	})
}

// TriggerBriefing はユーザーの存在を確認してから指定日のブリーフィング生成タスクを投入する。
func (d *Dispatcher) TriggerBriefing(ctx context.Context, userID string, date time.Time, force bool) error {
	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || !user.IsActive {
		return model.NewUserNotFoundError(userID)
	}
	return d.enqueueBriefing(userID, date, force)
}

// EnqueueBriefing は定期生成からブリーフィング生成タスクを投入する。
func (d *Dispatcher) EnqueueBriefing(userID string, date time.Time) error {
	return d.enqueueBriefing(userID, date, false)
}

func (d *Dispatcher) enqueueBriefing(userID string, date time.Time, force bool) error {
	date = model.DateOf(date)
	return d.enqueue(queue.Task{
		Kind:  queue.KindBriefing,
		Key:   userID + "/" + date.Format(model.DateLayout),
		Retry: true,
		Run: func(ctx context.Context) error {
			_, err := d.briefings.Generate(ctx, userID, date, briefing.GenerateOptions{Force: force})
			return err
		},
	})
}

// GetBriefing は指定IDのブリーフィングを返す。
func (d *Dispatcher) GetBriefing(ctx context.Context, briefingID string) (*model.Briefing, error) {
	return d.briefings.Get(ctx, briefingID)
}

// GetBriefingLinks はブリーフィングに含まれるコンテンツを順序通りに返す。
func (d *Dispatcher) GetBriefingLinks(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error) {
	return d.briefings.Links(ctx, briefingID)
}

// MarkDelivered はブリーフィングを同期的に配信済みにする。
func (d *Dispatcher) MarkDelivered(ctx context.Context, briefingID string) (*model.Briefing, error) {
	return d.briefings.MarkDelivered(ctx, briefingID)
}

// enqueue は同じ種別と対象のタスクが未実行でなければ投入する。
// 未実行のタスクが既にある場合は何もせず成功とする。
func (d *Dispatcher) enqueue(task queue.Task) error {
	key := task.Kind + ":" + task.Key

	d.mu.Lock()
	if _, ok := d.pending[key]; ok {
		d.mu.Unlock()
		d.logger.Info("同じタスクが実行待ちのため投入を省略しました",
			slog.String("kind", task.Kind),
			slog.String("key", task.Key),
		)
		return nil
	}
	d.pending[key] = struct{}{}
	d.mu.Unlock()

	run := task.Run
	task.Run = func(ctx context.Context) error {
		d.release(key)
		return run(ctx)
	}

	if err := d.queue.Enqueue(task); err != nil {
		d.release(key)
		return err
	}
	return nil
}

func (d *Dispatcher) release(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}
