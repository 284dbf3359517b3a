package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/dailydigest/internal/briefing"
	"github.com/hitoshi/dailydigest/internal/config"
	"github.com/hitoshi/dailydigest/internal/database"
	"github.com/hitoshi/dailydigest/internal/handler"
	"github.com/hitoshi/dailydigest/internal/logger"
	"github.com/hitoshi/dailydigest/internal/metrics"
	"github.com/hitoshi/dailydigest/internal/middleware"
	"github.com/hitoshi/dailydigest/internal/worker/cleanup"
	"github.com/hitoshi/dailydigest/internal/worker/sourcesync"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(logger.New(w, logger.ParseLevel(cfg.LogLevel)))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage", cfg.StorageType),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、タスクキューとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. サービスの組み立て
	svc, err := buildServices(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	// 3. トリガーから投入されたタスクを処理するキューを起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.queue.Start(ctx)

	// 4. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.TriggerRate = rate.Limit(float64(cfg.RateLimitTrigger) / 60.0)
	rateLimiterCfg.TriggerBurst = cfg.RateLimitTrigger
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg, slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		APIToken:       cfg.APIToken,
		RateLimiter:    rateLimiter,
		Logger:         slog.Default(),
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(svc.registry),
		Pipeline:       svc.dispatcher,
		StorageDir:     svc.storageDir,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	cancel()
	svc.queue.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、タスクキューと同期・分類・ブリーフィング生成の各スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. サービスの組み立て
	svc, err := buildServices(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	// 3. スケジューラの初期化
	syncScheduler := sourcesync.NewScheduler(svc.sourceRepo, svc.dispatcher, slog.Default())
	sweeper := briefing.NewSweeper(svc.userRepo, svc.briefingRepo, svc.dispatcher, slog.Default(), briefing.ScheduleConfig{
		Lead:   cfg.BriefingLead,
		Window: cfg.BriefingWindow,
	})
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cfg.LogRetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Duration("classify_interval", cfg.ClassifyInterval),
		slog.Duration("briefing_sweep_interval", cfg.BriefingSweepInterval),
		slog.Int("queue_workers", cfg.QueueWorkers),
	)

	svc.queue.Start(ctx)

	// 分類バッチとブリーフィングのスイープをバックグラウンドで起動
	go runPeriodically(ctx, cfg.ClassifyInterval, slog.Default(), "classification batch", svc.dispatcher.TriggerClassificationBatch)
	go sweeper.Start(ctx, cfg.BriefingSweepInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	syncScheduler.Start(ctx, cfg.SyncInterval)

	svc.queue.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runPeriodically は起動直後とinterval間隔でfnを実行する。
// fnのエラーはログに記録して次の実行を待つ。
func runPeriodically(ctx context.Context, interval time.Duration, logger *slog.Logger, name string, fn func() error) {
	run := func() {
		if err := fn(); err != nil {
			logger.Error("periodic task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
