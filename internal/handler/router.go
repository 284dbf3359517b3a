package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dailydigest/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIToken    string
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// パイプライン
	Pipeline PipelineService

	// StorageDir はローカル保存先のディレクトリ。空の場合は/storageを公開しない。
	StorageDir string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → APIToken → RateLimit(General) → RateLimit(Trigger)
//
// /health、/metrics、/storage/* は認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger).ServeHTTP)

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	if deps.StorageDir != "" {
		r.Handle("/storage/*", http.StripPrefix("/storage/", http.FileServer(http.Dir(deps.StorageDir))))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: APIToken → RateLimit(General)
	h := NewTriggerHandler(deps.Pipeline, deps.Logger)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAPITokenMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// トリガー操作（トリガー専用レート制限を追加）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.TriggerMiddleware())

			r.Post("/sources/{sourceID}/sync", h.TriggerSync)
			r.Post("/classifications/run", h.TriggerClassification)
			r.Post("/users/{userID}/briefings", h.TriggerBriefing)
		})

		r.Route("/briefings/{briefingID}", func(r chi.Router) {
			r.Get("/", h.GetBriefing)
			r.Post("/delivered", h.MarkDelivered)
		})
	})

	return r
}
