package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/newsreader/internal/middleware"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/presenter"
)

// ListOrchestratorInterface は一覧ハンドラーが必要とする画面状態の操作。
type ListOrchestratorInterface interface {
	State() presenter.State
	Watch(ctx context.Context) <-chan presenter.State
	Dispatch(e presenter.Event) error
	SyncFavorite(id string, isFavorite bool)
}

// ListHandler は一覧画面の状態とイベントのHTTPハンドラー。
type ListHandler struct {
	orchestrator ListOrchestratorInterface
	logger       *slog.Logger
}

// NewListHandler はListHandlerを生成する。
func NewListHandler(orchestrator ListOrchestratorInterface, logger *slog.Logger) *ListHandler {
	return &ListHandler{orchestrator: orchestrator, logger: logger}
}

// eventRequest はイベント送信リクエストのボディ。
type eventRequest struct {
	Type      string `json:"type"`
	Category  string `json:"category,omitempty"`
	Query     string `json:"query,omitempty"`
	ArticleID string `json:"articleId,omitempty"`
}

// GetState は現在の状態を返す。
// GET /api/list/state
func (h *ListHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(h.orchestrator.State()))
}

// Stream は状態の変化をServer-Sent Eventsで送り続ける。
// GET /api/list/stream
func (h *ListHandler) Stream(w http.ResponseWriter, r *http.Request) {
	states := h.orchestrator.Watch(r.Context())
	writeEventStream(w, middleware.LoggerFromContext(r.Context(), h.logger), "state", states, nil, func(s presenter.State) any {
		return toStateResponse(s)
	})
}

// PostEvent はUIイベントを受け付ける。処理は非同期に行い、受付時点の状態を202で返す。
// POST /api/list/events
func (h *ListHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEventError("リクエストボディの解析に失敗しました"))
		return
	}

	event, err := parseEvent(req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.orchestrator.Dispatch(event); err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.LoggerFromContext(r.Context(), h.logger).Debug("イベントを受け付けました",
		slog.String("type", req.Type),
	)
	writeJSON(w, http.StatusAccepted, toStateResponse(h.orchestrator.State()))
}

// parseEvent はリクエストをイベントに変換する。
func parseEvent(req eventRequest) (presenter.Event, error) {
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "load":
		return presenter.Load{}, nil
	case "refresh":
		return presenter.Refresh{}, nil
	case "load_more":
		return presenter.LoadMore{}, nil
	case "select_category":
		if strings.TrimSpace(req.Category) == "" {
			return presenter.SelectCategory{}, nil
		}
		c, ok := model.LookupCategory(req.Category)
		if !ok {
			return nil, model.NewInvalidEventError(fmt.Sprintf("未知のカテゴリです: %s", req.Category))
		}
		return presenter.SelectCategory{Category: &c}, nil
	case "search":
		return presenter.Search{Query: req.Query}, nil
	case "toggle_favorite":
		if req.ArticleID == "" {
			return nil, model.NewInvalidEventError("articleIdが指定されていません")
		}
		return presenter.ToggleFavorite{ArticleID: req.ArticleID}, nil
	case "load_favorites":
		return presenter.LoadFavorites{}, nil
	case "clear_error":
		return presenter.ClearError{}, nil
	default:
		return nil, model.NewInvalidEventError(fmt.Sprintf("未対応のイベント種別です: %q", req.Type))
	}
}
