package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/newsreader/internal/article"
	"github.com/hitoshi/newsreader/internal/cache"
	"github.com/hitoshi/newsreader/internal/config"
	"github.com/hitoshi/newsreader/internal/database"
	"github.com/hitoshi/newsreader/internal/handler"
	"github.com/hitoshi/newsreader/internal/logger"
	"github.com/hitoshi/newsreader/internal/metrics"
	"github.com/hitoshi/newsreader/internal/middleware"
	"github.com/hitoshi/newsreader/internal/presenter"
	"github.com/hitoshi/newsreader/internal/remote"
	"github.com/hitoshi/newsreader/internal/remote/rss"
	"github.com/hitoshi/newsreader/internal/repository"
	"github.com/hitoshi/newsreader/internal/security"
	"github.com/hitoshi/newsreader/internal/worker/cleanup"
	"github.com/hitoshi/newsreader/internal/worker/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
		slog.String("remote_kind", string(cfg.RemoteKind)),
		slog.String("cache_database_url", maskDatabaseURL(cfg.CacheDatabaseURL)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandRefresh:
		return runRefresh(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandClearCache:
		return runClearCache(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// services はサブコマンド間で共有するコンポーネント群。
type services struct {
	db       *sql.DB // memory://の場合はnil
	store    *cache.Store
	sync     *article.Synchronizer
	registry *prometheus.Registry
}

// openServices はキャッシュとリモートソースを開き、Synchronizerまでを組み立てる。
// 呼び出し元はClose()でキャッシュ接続を閉じること。
func openServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	// 1. キャッシュ
	repo, db, err := openCache(ctx, cfg.CacheDatabaseURL)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. リモートソース
	source, err := newSource(cfg, collector, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	store := cache.NewStore(repo, logger)
	return &services{
		db:       db,
		store:    store,
		sync:     article.NewSynchronizer(source, store, collector, logger),
		registry: registry,
	}, nil
}

// Close はキャッシュ接続を閉じる。
func (s *services) Close() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("failed to close cache database", slog.String("error", err.Error()))
	}
}

// healthChecker はSQLキャッシュの場合のみ疎通確認対象を返す。
func (s *services) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// openCache はキャッシュURLに応じたリポジトリを返す。
// SQLキャッシュの場合は未適用のマイグレーションを適用してから接続する。
func openCache(ctx context.Context, cacheURL string) (repository.ArticleRepository, *sql.DB, error) {
	dialect, _, err := database.ParseCacheURL(cacheURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cache database URL: %w", err)
	}
	if dialect == database.DialectMemory {
		slog.Info("using in-memory article cache")
		return repository.NewMemoryArticleRepo(), nil, nil
	}

	if err := database.RunMigrations(cacheURL); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	db, _, err := database.Open(cacheURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	slog.Info("cache database connection established", slog.String("dialect", string(dialect)))
	return repository.NewSQLArticleRepo(db), db, nil
}

// newSource は設定に応じたリモートソースを生成する。
func newSource(cfg *config.Config, m metrics.MetricsCollector, logger *slog.Logger) (article.Source, error) {
	sanitizer := security.NewContentSanitizer()

	switch cfg.RemoteKind {
	case config.RemoteKindAPI:
		return remote.NewClient(
			remote.NewHTTPClient(cfg.RemoteTimeout),
			remote.Options{
				BaseURL:     cfg.APIBaseURL,
				RateLimit:   cfg.RemoteRateLimit,
				MaxBodySize: cfg.RemoteMaxBodySize,
			},
			sanitizer, m, logger,
		), nil
	case config.RemoteKindRSS:
		return rss.NewSource(
			rss.Options{
				FeedURLs:    cfg.RSSFeedURLs,
				Timeout:     cfg.RemoteTimeout,
				MaxBodySize: cfg.RemoteMaxBodySize,
			},
			security.NewSSRFGuard(cfg.AllowPrivateFeeds),
			sanitizer, m, logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported remote kind: %q", cfg.RemoteKind)
	}
}

// newHandler はHTTPルーターを組み立てる。
func newHandler(cfg *config.Config, svc *services, list *presenter.ListOrchestrator, limiter *middleware.RateLimiter, shutdown <-chan struct{}, logger *slog.Logger) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		HealthChecker:     svc.healthChecker(),
		Gatherer:          svc.registry,
		List:              list,
		Articles:          svc.sync,
		Shutdown:          shutdown,
	})
}

// newRateLimiter はイベント送信用のレートリミッターを生成する。
func newRateLimiter(cfg *config.Config, logger *slog.Logger) *middleware.RateLimiter {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.EventRateLimit > 0 {
		rlCfg.Rate = rate.Limit(cfg.EventRateLimit)
	}
	if cfg.EventRateBurst > 0 {
		rlCfg.Burst = cfg.EventRateBurst
	}
	return middleware.NewRateLimiter(rlCfg, logger)
}

// startWorkers は設定で有効化されたバックグラウンドジョブを起動する。
// ジョブはctxのキャンセルで停止する。
func startWorkers(ctx context.Context, cfg *config.Config, svc *services, logger *slog.Logger) {
	if cfg.RefreshInterval > 0 {
		scheduler := refresh.NewScheduler(svc.sync, logger, cfg.RefreshInterval, cfg.PageSize)
		go scheduler.Start(ctx)
	}

	if cfg.CacheRetention > 0 {
		job := cleanup.NewCleanupJob(svc.store, logger, cfg.CacheRetention)
		go job.Start(ctx, 24*time.Hour)
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、一覧の初回読み込みを開始してからHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	svc, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	list := presenter.NewListOrchestrator(svc.sync, cfg.PageSize, logger)
	defer list.Close()
	if err := list.Dispatch(presenter.Load{}); err != nil {
		return fmt.Errorf("failed to start initial load: %w", err)
	}

	limiter := newRateLimiter(cfg, logger)
	defer limiter.Stop()

	startWorkers(ctx, cfg, svc, logger)

	streamsDone := make(chan struct{})

	// SSEのハンドラーは自身の書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newHandler(cfg, svc, list, limiter, streamsDone, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// ストリーム購読を終了させないとShutdownが接続のアイドル化を待ち続ける
	server.RegisterOnShutdown(func() {
		list.Close()
		close(streamsDone)
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runRefresh はリモートから1ページ目を取得し、キャッシュを置き換えて終了する。
// お気に入り状態は維持される。
func runRefresh(ctx context.Context, cfg *config.Config) error {
	svc, err := openServices(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.sync.Refresh(ctx, 1, cfg.PageSize, nil); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	count, err := svc.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count cached articles: %w", err)
	}

	slog.Info("article cache refreshed", slog.Int("articles_cached", count))
	return nil
}

// runClearCache はキャッシュ済みの記事をすべて削除する。
func runClearCache(ctx context.Context, cfg *config.Config) error {
	svc, err := openServices(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.sync.ClearCache(ctx); err != nil {
		return fmt.Errorf("clear cache failed: %w", err)
	}

	slog.Info("article cache cleared")
	return nil
}

// runMigrate はキャッシュデータベースのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。memory://の場合は何もしない。
func runMigrate(cfg *config.Config) error {
	slog.Info("running cache database migrations",
		slog.String("cache_database_url", maskDatabaseURL(cfg.CacheDatabaseURL)),
	)

	if err := database.RunMigrations(cfg.CacheDatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("cache database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
// 認証情報を含まないURL（SQLiteのパスなど）はそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return raw
	}
	u.User = url.User("xxxxx")
	return u.String()
}
