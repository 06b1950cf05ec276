package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/newsreader/internal/middleware"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/presenter"
)

// ArticleServiceInterface は記事ハンドラーが必要とする記事操作。
// 詳細画面のストリームはpresenter.DetailOrchestratorを通して提供する。
type ArticleServiceInterface interface {
	presenter.DetailService
	Categories(ctx context.Context) []model.CategoryInfo
	ClearCache(ctx context.Context) error
}

// FavoriteSyncer はお気に入りの変更を一覧画面に反映する。
type FavoriteSyncer interface {
	SyncFavorite(id string, isFavorite bool)
}

// ArticleHandler は記事詳細・お気に入り・カテゴリ・キャッシュ操作のHTTPハンドラー。
type ArticleHandler struct {
	service  ArticleServiceInterface
	list     FavoriteSyncer
	shutdown <-chan struct{}
	logger   *slog.Logger
}

// NewArticleHandler はArticleHandlerを生成する。
// listがnilの場合、お気に入りの変更は一覧画面に反映しない。
// shutdownが閉じられると詳細のストリームを終了する。
func NewArticleHandler(service ArticleServiceInterface, list FavoriteSyncer, shutdown <-chan struct{}, logger *slog.Logger) *ArticleHandler {
	return &ArticleHandler{service: service, list: list, shutdown: shutdown, logger: logger}
}

// GetArticle は記事詳細を返す。通信に失敗した場合はキャッシュの記事を返す。
// GET /api/articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for result := range h.service.FetchByID(r.Context(), id) {
		switch result.Status {
		case model.ResultSuccess:
			writeJSON(w, http.StatusOK, toArticleResponse(result.Value))
			return
		case model.ResultError:
			middleware.LoggerFromContext(r.Context(), h.logger).Warn("記事の取得に失敗しました",
				slog.String("article_id", id),
				slog.String("error", result.Err.Error()),
			)
			middleware.WriteError(w, result.Err)
			return
		}
	}
}

// StreamArticle は記事詳細の状態をServer-Sent Eventsで送り続ける。
// 取得後はキャッシュ上の記事を購読し、お気に入りの切り替えを反映する。
// GET /api/articles/{id}/stream
func (h *ArticleHandler) StreamArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	logger := middleware.LoggerFromContext(r.Context(), h.logger)
	detail := presenter.NewDetailOrchestrator(h.service, logger)
	defer detail.Close()
	if err := detail.LoadArticle(id); err != nil {
		middleware.WriteError(w, err)
		return
	}

	states := detail.Watch(r.Context())
	writeEventStream(w, logger, "article", states, h.shutdown, func(s presenter.DetailState) any {
		return toDetailStateResponse(s)
	})
}

// ToggleFavorite は記事のお気に入り状態を反転し、更新後の記事を返す。
// キャッシュにない記事は何もせず204を返す。
// POST /api/articles/{id}/favorite
func (h *ArticleHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.service.ToggleFavorite(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if h.list != nil {
		h.list.SyncFavorite(a.ID, a.IsFavorite)
	}
	writeJSON(w, http.StatusOK, toArticleResponse(*a))
}

// ListCategories はカテゴリ一覧を返す。
// GET /api/categories
func (h *ArticleHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.service.Categories(r.Context())
	resp := make([]categoryResponse, len(categories))
	for i, c := range categories {
		resp[i] = categoryResponse{ID: c.ID, Name: c.Name, DisplayName: c.DisplayName}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache はキャッシュの全記事を削除する。
// DELETE /api/cache
func (h *ArticleHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCache(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.LoggerFromContext(r.Context(), h.logger).Info("キャッシュを削除しました")
	w.WriteHeader(http.StatusNoContent)
}
