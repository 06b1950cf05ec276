package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/newsreader/internal/metrics"
	"github.com/hitoshi/newsreader/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HealthChecker     HealthChecker
	Gatherer          prometheus.Gatherer

	List     ListOrchestratorInterface
	Articles ArticleServiceInterface

	// Shutdown が閉じられると記事詳細のストリームを終了する。
	Shutdown <-chan struct{}
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → CORS
//
// 更新系のエンドポイントにはクライアントごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	listHandler := NewListHandler(deps.List, logger)
	var list FavoriteSyncer
	if deps.List != nil {
		list = deps.List
	}
	articleHandler := NewArticleHandler(deps.Articles, list, deps.Shutdown, logger)

	limited := func(r chi.Router) chi.Router {
		if deps.RateLimiter == nil {
			return r
		}
		return r.With(deps.RateLimiter.Middleware())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/list", func(r chi.Router) {
			r.Get("/state", listHandler.GetState)
			r.Get("/stream", listHandler.Stream)
			limited(r).Post("/events", listHandler.PostEvent)
		})

		r.Route("/articles/{id}", func(r chi.Router) {
			r.Get("/", articleHandler.GetArticle)
			r.Get("/stream", articleHandler.StreamArticle)
			limited(r).Post("/favorite", articleHandler.ToggleFavorite)
		})

		r.Get("/categories", articleHandler.ListCategories)
		limited(r).Delete("/cache", articleHandler.ClearCache)
	})

	return r
}
