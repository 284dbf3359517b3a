// Package queue はバックグラウンドタスクのインプロセスキューを提供する。
// 固定数のワーカーがバッファ付きチャネルからタスクを取り出し、
// 一時的な障害で失敗したタスクは指数バックオフで再試行する。
// 停止時はバッファに残ったタスクをDrainTimeoutの範囲で実行してから終了する。
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/dailydigest/internal/metrics"
	"github.com/hitoshi/dailydigest/internal/model"
)

// タスク種別
const (
	KindSync     = "sync"
	KindClassify = "classify"
	KindBriefing = "briefing"
)

// Task はキューで実行する1単位の処理を表す。
type Task struct {
	// Kind はメトリクスとログに使うタスク種別。
	Kind string
	// Key はログに記録する対象ID（ソースIDやユーザーIDなど）。
	Key string
	// Retry がtrueの場合、一時的な障害で失敗したときに再試行する。
	Retry bool
	// Run はタスク本体。
	Run func(ctx context.Context) error
}

// Config はQueueの設定。
type Config struct {
	// Workers は並列に実行するワーカー数。
	Workers int
	// Size はキューのバッファサイズ。
	Size int
	// MaxAttempts は再試行を含む最大実行回数。
	MaxAttempts int
	// BaseBackoff は初回の再試行までの待機時間。
	BaseBackoff time.Duration
	// MaxInterval は再試行間隔の上限。
	MaxInterval time.Duration
	// DrainTimeout は停止時に残りのタスクを実行する時間の上限。
	DrainTimeout time.Duration
}

// Queue はバッファ付きのタスクキューとワーカープール。
type Queue struct {
	cfg     Config
	tasks   chan Task
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	started atomic.Bool
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New はQueueの新しいインスタンスを生成する。
// ワーカーはStartを呼ぶまで起動しない。
func New(cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 20 * time.Second
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Queue{
		cfg:     cfg,
		tasks:   make(chan Task, cfg.Size),
		metrics: collector,
		logger:  logger,
	}
}

// Enqueue はタスクをキューに投入する。ブロックはしない。
// キューが満杯または停止済みの場合はQUEUE_FULLエラーを返す。
func (q *Queue) Enqueue(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("タスクの処理が指定されていません: %s", task.Kind)
	}
	if q.stopped.Load() {
		q.metrics.RecordJob(task.Kind, "rejected")
		return model.NewQueueFullError()
	}

	select {
	case q.tasks <- task:
		q.metrics.RecordJob(task.Kind, "enqueued")
		return nil
	default:
		q.metrics.RecordJob(task.Kind, "rejected")
		q.logger.Warn("タスクキューが満杯のため投入を拒否しました",
			slog.String("kind", task.Kind),
			slog.String("key", task.Key),
			slog.Int("size", q.cfg.Size),
		)
		return model.NewQueueFullError()
	}
}

// Start はワーカーを起動する。2回目以降の呼び出しは何もしない。
// コンテキストがキャンセルされると新規の投入を拒否し、
// ワーカーはバッファに残ったタスクを実行してから停止する。
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}

	q.logger.Info("タスクキューを開始しました",
		slog.Int("workers", q.cfg.Workers),
		slog.Int("size", q.cfg.Size),
	)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.runWorker(ctx)
	}

	go func() {
		<-ctx.Done()
		q.stopped.Store(true)
	}()
}

// Wait は全ワーカーの停止を待つ。
func (q *Queue) Wait() {
	q.wg.Wait()
	q.logger.Info("タスクキューを停止しました",
		slog.Int("pending", len(q.tasks)),
	)
}

// Len はキューに残っているタスク数を返す。
func (q *Queue) Len() int {
	return len(q.tasks)
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()

	for {
		if ctx.Err() != nil {
			q.drain(ctx)
			return
		}
		select {
		case <-ctx.Done():
			q.drain(ctx)
			return
		case task := <-q.tasks:
			q.execute(ctx, task)
		}
	}
}

// drain は停止時にバッファに残ったタスクを実行する。
// キャンセルを引き継がないコンテキストで1回ずつ実行し、DrainTimeoutを過ぎたら残りは実行しない。
// 再試行は行わない。
func (q *Queue) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), q.cfg.DrainTimeout)
	defer cancel()

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case task := <-q.tasks:
			task.Retry = false
			q.execute(ctx, task)
		default:
			return
		}
	}
}

// execute はタスクを実行し、一時的な障害であればバックオフ後に再試行する。
func (q *Queue) execute(ctx context.Context, task Task) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = q.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := q.runSafely(ctx, task)
		if err == nil {
			q.metrics.RecordJob(task.Kind, "succeeded")
			return
		}

		if !task.Retry || !model.IsTransient(err) || attempt >= q.cfg.MaxAttempts {
			q.metrics.RecordJob(task.Kind, "failed")
			q.logger.Error("タスクの実行に失敗しました",
				slog.String("kind", task.Kind),
				slog.String("key", task.Key),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return
		}

		wait := exp.NextBackOff()
		q.metrics.RecordJob(task.Kind, "retried")
		q.logger.Warn("タスクを再試行します",
			slog.String("kind", task.Kind),
			slog.String("key", task.Key),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			q.metrics.RecordJob(task.Kind, "failed")
			return
		case <-time.After(wait):
		}
	}
}

// runSafely はタスクのpanicをエラーに変換する。
func (q *Queue) runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("タスクがpanicしました: %v", r)
		}
	}()
	return task.Run(ctx)
}
