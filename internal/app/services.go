package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dailydigest/internal/briefing"
	"github.com/hitoshi/dailydigest/internal/classify"
	"github.com/hitoshi/dailydigest/internal/config"
	"github.com/hitoshi/dailydigest/internal/ingest"
	"github.com/hitoshi/dailydigest/internal/llm"
	"github.com/hitoshi/dailydigest/internal/metrics"
	"github.com/hitoshi/dailydigest/internal/pipeline"
	"github.com/hitoshi/dailydigest/internal/repository"
	"github.com/hitoshi/dailydigest/internal/security"
	"github.com/hitoshi/dailydigest/internal/source"
	"github.com/hitoshi/dailydigest/internal/storage"
	"github.com/hitoshi/dailydigest/internal/tts"
	"github.com/hitoshi/dailydigest/internal/worker/queue"
)

// services はserve/workerの両モードで共有する依存関係をまとめた構造体。
type services struct {
	sourceRepo   repository.SourceRepository
	userRepo     repository.UserRepository
	briefingRepo repository.BriefingRepository

	registry   *prometheus.Registry
	queue      *queue.Queue
	dispatcher *pipeline.Dispatcher

	// storageDir はローカル保存時の公開ディレクトリ。S3保存時は空。
	storageDir string
}

// buildServices はリポジトリからディスパッチャまでを順に組み立てる。
func buildServices(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*services, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	sourceRepo := repository.NewPostgresSourceRepo(db)
	syncRunRepo := repository.NewPostgresSyncRunRepo(db)
	contentRepo := repository.NewPostgresContentRepo(db)
	classificationRepo := repository.NewPostgresClassificationRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	prefsRepo := repository.NewPostgresPreferencesRepo(db)
	briefingRepo := repository.NewPostgresBriefingRepo(db)

	// 3. セキュリティサービスの初期化
	cipher, err := security.NewCredentialCipher(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init credential cipher: %w", err)
	}
	ssrfGuard := security.NewSSRFGuard()
	extractor := security.NewTextExtractor()

	// 4. ソースアダプタと同期
	opts := source.ClientOptions{
		Timeout:           cfg.ProviderTimeout,
		RequestsPerSecond: cfg.ProviderRPS,
	}
	adapters := source.NewRegistry(
		source.NewTwitterAdapter(opts),
		source.NewFacebookAdapter(opts),
		source.NewInstagramAdapter(opts),
		source.NewTelegramAdapter(opts),
		source.NewRSSAdapter(ssrfGuard.NewSafeClient(cfg.ProviderTimeout), ssrfGuard, extractor, cfg.RSSMaxSize),
	)
	syncer := ingest.NewSyncer(
		sourceRepo, syncRunRepo, adapters, cipher,
		ingest.NewReconciler(contentRepo), collector, logger,
		ingest.SyncerConfig{Lookback: cfg.SyncLookback, Limit: cfg.SyncLimit},
	)

	// 5. 分類
	keywords := classify.DefaultKeywordSets()
	if cfg.KeywordsFile != "" {
		keywords, err = classify.LoadKeywordSets(cfg.KeywordsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load keyword sets: %w", err)
		}
	}
	rules := classify.NewRuleBased(keywords, cfg.DefaultLanguage)

	var completer llm.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = llm.NewOpenAIClient(llm.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.ProviderTimeout,
		})
	}

	var classifier classify.Classifier = rules
	if cfg.AIEnabled() {
		classifier = classify.NewAIClassifier(completer, rules, collector, logger)
	}
	batch := classify.NewBatchProcessor(
		contentRepo, classificationRepo, prefsRepo, classifier, logger,
		classify.BatchConfig{Lookback: cfg.ClassifyLookback, BatchSize: cfg.ClassifyBatchSize},
	)

	// 6. 要約・音声合成・保存先
	var summarizer briefing.Summarizer
	if completer != nil {
		summarizer = llm.NewSummarizer(completer)
	}

	var renderers []tts.Renderer
	if cfg.ElevenLabsAPIKey != "" {
		renderers = append(renderers, tts.NewElevenLabs(tts.ProviderConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			Model:   cfg.ElevenLabsModel,
			Voice:   cfg.ElevenLabsVoice,
			Timeout: cfg.ProviderTimeout,
		}))
	}
	if cfg.OpenAIAPIKey != "" {
		renderers = append(renderers, tts.NewOpenAI(tts.ProviderConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAITTSModel,
			Voice:   cfg.OpenAITTSVoice,
			Timeout: cfg.ProviderTimeout,
		}))
	}
	var renderer tts.Renderer
	if len(renderers) > 0 {
		renderer = tts.NewChain(logger, collector, renderers...)
	}

	store, storageDir, err := newBlobStore(cfg)
	if err != nil {
		return nil, err
	}

	// 7. ブリーフィング生成
	selector := briefing.NewSelector(contentRepo, briefing.SelectorConfig{
		MinRelevance: cfg.BriefingMinRelevance,
		MaxItems:     cfg.BriefingMaxItems,
	})
	generator := briefing.NewGenerator(
		userRepo, prefsRepo, briefingRepo, selector,
		summarizer, renderer, store, collector, logger,
		briefing.GeneratorConfig{
			TargetSeconds:   cfg.BriefingTargetSeconds,
			DefaultLanguage: cfg.DefaultLanguage,
			StaleAfter:      cfg.BriefingStaleAfter,
		},
	)

	// 8. タスクキューとディスパッチャ
	q := queue.New(queue.Config{
		Workers:      cfg.QueueWorkers,
		Size:         cfg.QueueSize,
		MaxAttempts:  cfg.QueueMaxAttempts,
		DrainTimeout: cfg.QueueDrainTimeout,
	}, collector, logger)
	dispatcher := pipeline.NewDispatcher(q, sourceRepo, userRepo, syncer, batch, generator, logger)

	logger.Info("services initialized",
		slog.Bool("ai_classification", cfg.AIEnabled()),
		slog.Bool("summarizer", summarizer != nil),
		slog.Int("tts_providers", len(renderers)),
		slog.String("storage", cfg.StorageType),
	)

	return &services{
		sourceRepo:   sourceRepo,
		userRepo:     userRepo,
		briefingRepo: briefingRepo,
		registry:     registry,
		queue:        q,
		dispatcher:   dispatcher,
		storageDir:   storageDir,
	}, nil
}

// newBlobStore は設定に応じた音声ファイルの保存先を返す。
// ローカル保存の場合は公開ディレクトリも返す。
func newBlobStore(cfg *config.Config) (storage.BlobStore, string, error) {
	if cfg.StorageType == config.StorageS3 {
		store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to init s3 storage: %w", err)
		}
		return store, "", nil
	}
	local := storage.NewLocalStore(cfg.StorageDir)
	return local, local.Dir(), nil
}
