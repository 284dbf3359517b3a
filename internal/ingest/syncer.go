package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dailydigest/internal/metrics"
	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
	"github.com/hitoshi/dailydigest/internal/source"
)

// AdapterLookup はソース種別からアダプタを引くインターフェース。
type AdapterLookup interface {
	Lookup(t model.SourceType) (source.Adapter, error)
}

// CredentialDecrypter は暗号化された認証情報を復号するインターフェース。
type CredentialDecrypter interface {
	Decrypt(blob string) (string, error)
}

// SyncerConfig はSyncerの設定。
type SyncerConfig struct {
	// Lookback は前回同期日時が無いソースの取得期間。
	Lookback time.Duration
	// Limit は1回の同期で取得する最大件数。
	Limit int
}

// Syncer はソース1件の同期（取得・取り込み・同期ログ記録）を行う。
type Syncer struct {
	sourceRepo  repository.SourceRepository
	syncRunRepo repository.SyncRunRepository
	adapters    AdapterLookup
	cipher      CredentialDecrypter
	reconciler  *Reconciler
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	cfg         SyncerConfig
	now         func() time.Time
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(
	sourceRepo repository.SourceRepository,
	syncRunRepo repository.SyncRunRepository,
	adapters AdapterLookup,
	cipher CredentialDecrypter,
	reconciler *Reconciler,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg SyncerConfig,
) *Syncer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = source.DefaultLookback
	}
	if cfg.Limit <= 0 {
		cfg.Limit = source.DefaultLimit
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Syncer{
		sourceRepo:  sourceRepo,
		syncRunRepo: syncRunRepo,
		adapters:    adapters,
		cipher:      cipher,
		reconciler:  reconciler,
		metrics:     collector,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Sync は指定ソースを同期し、記録したSyncRunを返す。
// 非アクティブなソースは同期せず (nil, nil) を返す。
// 同期が失敗または一部失敗した場合は、SyncRunと原因のエラーを返す。
func (s *Syncer) Sync(ctx context.Context, sourceID string) (*model.SyncRun, error) {
	start := s.now().UTC()

	src, err := s.sourceRepo.FindByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, model.NewSourceNotFoundError(sourceID)
	}
	if !src.IsActive {
		s.logger.Info("非アクティブなソースの同期をスキップしました",
			slog.String("source_id", src.ID),
		)
		return nil, nil
	}

	since := start.Add(-s.cfg.Lookback)
	if src.LastSyncAt != nil {
		since = *src.LastSyncAt
	}

	// 結果に関わらず同期開始時刻を記録する
	if err := s.sourceRepo.TouchLastSync(ctx, src.ID, start); err != nil {
		s.logger.Warn("last_sync_atの更新に失敗しました",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}

	run := &model.SyncRun{
		ID:        uuid.New().String(),
		SourceID:  src.ID,
		StartedAt: start,
	}

	syncErr := s.run(ctx, src, since, run)
	s.finish(ctx, src, run, syncErr)
	return run, syncErr
}

func (s *Syncer) run(ctx context.Context, src *model.DataSource, since time.Time, run *model.SyncRun) error {
	adapter, err := s.adapters.Lookup(src.Type)
	if err != nil {
		run.Status = model.SyncStatusFailed
		return err
	}

	cred, err := s.credential(src, adapter)
	if err != nil {
		run.Status = model.SyncStatusFailed
		return err
	}

	items, fetchErr := source.FetchAll(ctx, adapter, source.Request{
		Credential: cred,
		Settings:   src.Settings,
		Since:      since,
		Limit:      s.cfg.Limit,
	})
	if fetchErr != nil {
		s.recordProviderStatus(fetchErr)
	}

	res, recErr := s.reconciler.Reconcile(ctx, src, items, run.StartedAt)
	run.ItemsFetched = res.Fetched
	run.ItemsNew = res.New
	run.ItemsUpdated = res.Updated

	switch {
	case recErr != nil:
		run.Status = model.SyncStatusFailed
		return recErr
	case fetchErr != nil && len(items) > 0:
		run.Status = model.SyncStatusPartial
		return fetchErr
	case fetchErr != nil:
		run.Status = model.SyncStatusFailed
		return fetchErr
	default:
		run.Status = model.SyncStatusSuccess
		return nil
	}
}

// credential はソースの認証情報を復号する。
// 復号結果がJSONオブジェクトでない場合はアダプタの必須キーの値として扱う。
func (s *Syncer) credential(src *model.DataSource, adapter source.Adapter) (source.Credential, error) {
	key := adapter.CredentialKey()
	if key == "" {
		return source.Credential{}, nil
	}
	if src.Credentials == "" {
		return nil, model.NewMissingCredentialError(src.ID)
	}

	plain, err := s.cipher.Decrypt(src.Credentials)
	if err != nil {
		return nil, fmt.Errorf("認証情報の復号に失敗しました: %w", err)
	}

	cred := source.Credential{}
	if err := json.Unmarshal([]byte(plain), &cred); err != nil {
		cred = source.Credential{key: plain}
	}
	if cred.Get(key) == "" {
		return nil, model.NewMissingCredentialError(src.ID)
	}
	return cred, nil
}

func (s *Syncer) recordProviderStatus(err error) {
	var pErr *source.ProviderError
	if errors.As(err, &pErr) && pErr.StatusCode != 0 {
		s.metrics.RecordProviderStatus(pErr.StatusCode)
	}
}

// finish は同期ログを1件記録し、メトリクスとログを出力する。
func (s *Syncer) finish(ctx context.Context, src *model.DataSource, run *model.SyncRun, syncErr error) {
	run.CompletedAt = s.now().UTC()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)
	if syncErr != nil {
		run.ErrorMessage = syncErr.Error()
	}

	if err := s.syncRunRepo.Append(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("同期ログの記録に失敗しました",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}

	s.metrics.RecordSyncRun(string(src.Type), string(run.Status))
	s.metrics.RecordSyncLatency(string(src.Type), run.Duration)
	s.metrics.RecordItemsIngested(run.ItemsNew, run.ItemsUpdated)

	attrs := []any{
		slog.String("source_id", src.ID),
		slog.String("source_type", string(src.Type)),
		slog.String("status", string(run.Status)),
		slog.Int("items_fetched", run.ItemsFetched),
		slog.Int("items_new", run.ItemsNew),
		slog.Int("items_updated", run.ItemsUpdated),
		slog.Float64("duration_ms", float64(run.Duration.Milliseconds())),
	}
	if syncErr != nil {
		attrs = append(attrs, slog.String("error", syncErr.Error()))
		s.logger.Error("ソースの同期に失敗しました", attrs...)
		return
	}
	s.logger.Info("ソースの同期が完了しました", attrs...)
}
