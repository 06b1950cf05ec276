package presenter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/newsreader/internal/article"
	"github.com/hitoshi/newsreader/internal/model"
)

// DetailService はDetailOrchestratorが使用する記事操作。
type DetailService interface {
	FetchByID(ctx context.Context, id string) <-chan model.Result[model.Article]
	ObserveArticle(ctx context.Context, id string) <-chan model.Result[model.Article]
	ToggleFavorite(ctx context.Context, id string) (*model.Article, error)
}

var _ DetailService = (*article.Synchronizer)(nil)

// DetailState は詳細画面の状態。
type DetailState struct {
	Article   *model.Article
	IsLoading bool
	Error     string
}

// ErrorView はエラーの表示方法を返す。
func (s DetailState) ErrorView() ErrorView {
	switch {
	case s.Error == "":
		return ErrorViewNone
	case s.Article != nil:
		return ErrorViewNotice
	default:
		return ErrorViewBlocking
	}
}

func (s DetailState) clone() DetailState {
	c := s
	if s.Article != nil {
		a := *s.Article
		a.Tags = append([]string(nil), s.Article.Tags...)
		c.Article = &a
	}
	return c
}

// DetailOrchestrator は記事詳細画面の状態を管理する。
// 記事を取得した後はキャッシュ上の記事を購読し、お気に入りの切り替えを反映する。
type DetailOrchestrator struct {
	service DetailService
	logger  *slog.Logger

	root   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state DetailState
	load  slot
	hub   *hub[DetailState]
}

// NewDetailOrchestrator はDetailOrchestratorを生成する。
func NewDetailOrchestrator(service DetailService, logger *slog.Logger) *DetailOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &DetailOrchestrator{
		service: service,
		logger:  logger,
		root:    root,
		cancel:  cancel,
		hub:     newHub[DetailState](),
	}
}

// State は現在の状態のコピーを返す。
func (o *DetailOrchestrator) State() DetailState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Watch は状態の変化を受け取るチャネルを返す。
func (o *DetailOrchestrator) Watch(ctx context.Context) <-chan DetailState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hub.subscribe(ctx, o.state.clone())
}

// Close は読み込みをキャンセルし、購読を終了する。
func (o *DetailOrchestrator) Close() {
	o.mu.Lock()
	o.load.stop()
	o.mu.Unlock()

	o.cancel()
	o.hub.close()
}

// LoadArticle は記事を読み込む。前の読み込みはキャンセルする。
func (o *DetailOrchestrator) LoadArticle(id string) error {
	if id == "" {
		return model.NewInvalidEventError("記事IDが指定されていません")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.root.Err() != nil {
		return nil
	}

	ctx, gen := o.load.issue(o.root)
	go o.run(ctx, gen, id)
	return nil
}

func (o *DetailOrchestrator) run(ctx context.Context, gen uint64, id string) {
	found := false
	for r := range o.service.FetchByID(ctx, id) {
		o.apply(gen, func(s *DetailState) {
			switch r.Status {
			case model.ResultLoading:
				s.IsLoading = true
				s.Error = ""
			case model.ResultSuccess:
				a := r.Value
				s.Article = &a
				s.IsLoading = false
				s.Error = ""
				found = true
			case model.ResultError:
				s.IsLoading = false
				s.Error = r.Message
			}
		})
	}
	if !found {
		return
	}

	// キャッシュから削除された場合でも表示中の記事は残す
	for r := range o.service.ObserveArticle(ctx, id) {
		if !r.IsSuccess() {
			continue
		}
		o.apply(gen, func(s *DetailState) {
			a := r.Value
			s.Article = &a
		})
	}
}

func (o *DetailOrchestrator) apply(gen uint64, fn func(*DetailState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.load.current(gen) {
		return
	}
	fn(&o.state)
	o.hub.publish(o.state.clone())
}

// ToggleFavorite は表示中の記事のお気に入り状態を反転する。記事がない場合は何もしない。
// 反映はキャッシュの購読を通じて行われる。
func (o *DetailOrchestrator) ToggleFavorite() {
	o.mu.Lock()
	current := o.state.Article
	o.mu.Unlock()
	if current == nil {
		return
	}

	go func(id string) {
		if _, err := o.service.ToggleFavorite(o.root, id); err != nil {
			o.logger.Warn("お気に入りの切り替えに失敗しました",
				slog.String("article_id", id),
				slog.String("error", err.Error()),
			)
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.root.Err() != nil {
				return
			}
			o.state.Error = model.MessageOf(err)
			o.hub.publish(o.state.clone())
		}
	}(current.ID)
}
