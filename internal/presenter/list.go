// Package presenter は画面ごとの状態を保持し、UIイベントを記事操作に変換する。
package presenter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/newsreader/internal/article"
	"github.com/hitoshi/newsreader/internal/model"
)

// DefaultPageSize は1ページあたりの記事数の既定値。
const DefaultPageSize = 20

// ListService はListOrchestratorが使用する記事操作。
type ListService interface {
	FetchList(ctx context.Context, page, pageSize int, category *model.Category, forceRefresh bool) <-chan model.Result[[]model.Article]
	Search(ctx context.Context, query string) <-chan model.Result[[]model.Article]
	Favorites(ctx context.Context) <-chan model.Result[[]model.Article]
	ToggleFavorite(ctx context.Context, id string) (*model.Article, error)
	Refresh(ctx context.Context, page, pageSize int, category *model.Category) error
}

var _ ListService = (*article.Synchronizer)(nil)

// Mode は一覧画面の取得モード。同時に有効なモードは1つだけ。
type Mode string

const (
	ModeList      Mode = "list"
	ModeSearch    Mode = "search"
	ModeFavorites Mode = "favorites"
)

// ErrorView はエラーの表示方法。
type ErrorView int

const (
	// ErrorViewNone はエラーなし。
	ErrorViewNone ErrorView = iota
	// ErrorViewNotice は記事一覧を残したまま閉じられる通知として表示する。
	ErrorViewNotice
	// ErrorViewBlocking は記事がない状態で再試行画面として表示する。
	ErrorViewBlocking
)

// String はErrorViewの文字列表現を返す。
func (v ErrorView) String() string {
	switch v {
	case ErrorViewNotice:
		return "notice"
	case ErrorViewBlocking:
		return "blocking"
	default:
		return "none"
	}
}

// State は一覧画面の状態。
type State struct {
	Articles          []model.Article
	IsLoading         bool
	IsRefreshing      bool
	IsLoadingMore     bool
	IsSearching       bool
	Error             string
	SelectedCategory  *model.Category
	SearchQuery       string
	ShowFavoritesOnly bool
	CurrentPage       int
	HasMorePages      bool
	Mode              Mode
}

// ErrorView はエラーの表示方法を返す。
func (s State) ErrorView() ErrorView {
	switch {
	case s.Error == "":
		return ErrorViewNone
	case len(s.Articles) > 0:
		return ErrorViewNotice
	default:
		return ErrorViewBlocking
	}
}

func (s State) clone() State {
	c := s
	c.Articles = append([]model.Article(nil), s.Articles...)
	if s.SelectedCategory != nil {
		category := *s.SelectedCategory
		c.SelectedCategory = &category
	}
	return c
}

// Event は一覧画面のUIイベント。
type Event interface {
	eventName() string
}

type (
	// Load は選択中のカテゴリで1ページ目を読み込む。
	Load struct{}
	// Refresh はネットワークからキャッシュを更新し、一覧を読み込み直す。
	Refresh struct{}
	// LoadMore は次のページを読み込み、一覧の末尾に追加する。
	LoadMore struct{}
	// SelectCategory はカテゴリを切り替える。nilは全カテゴリ。
	SelectCategory struct{ Category *model.Category }
	// Search はキャッシュを検索する。空白のみの場合は検索を解除する。
	Search struct{ Query string }
	// ToggleFavorite は記事のお気に入り状態を反転する。
	ToggleFavorite struct{ ArticleID string }
	// LoadFavorites はお気に入り記事のみを表示する。
	LoadFavorites struct{}
	// ClearError は表示中のエラーを消す。
	ClearError struct{}
)

func (Load) eventName() string           { return "load" }
func (Refresh) eventName() string        { return "refresh" }
func (LoadMore) eventName() string       { return "load_more" }
func (SelectCategory) eventName() string { return "select_category" }
func (Search) eventName() string         { return "search" }
func (ToggleFavorite) eventName() string { return "toggle_favorite" }
func (LoadFavorites) eventName() string  { return "load_favorites" }
func (ClearError) eventName() string     { return "clear_error" }

// ListOrchestrator は一覧画面の状態を管理する。
//
// 一覧・お気に入りの読み込み枠と検索枠はそれぞれ単一実行で、再発行すると前の処理をキャンセルする。
// キャンセル済みの処理から遅れて届いた結果は状態に反映しない。
type ListOrchestrator struct {
	service  ListService
	pageSize int
	logger   *slog.Logger

	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	load    slot
	search  slot
	refresh slot
	hub     *hub[State]
}

// NewListOrchestrator はListOrchestratorを生成する。pageSizeが0以下の場合はDefaultPageSizeを使う。
// 読み込みは開始しないため、呼び出し側でLoadを送ること。
func NewListOrchestrator(service ListService, pageSize int, logger *slog.Logger) *ListOrchestrator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &ListOrchestrator{
		service:  service,
		pageSize: pageSize,
		logger:   logger,
		root:     root,
		cancel:   cancel,
		state: State{
			CurrentPage:  1,
			HasMorePages: true,
			Mode:         ModeList,
		},
		hub: newHub[State](),
	}
}

// State は現在の状態のコピーを返す。
func (o *ListOrchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Watch は状態の変化を受け取るチャネルを返す。最初に現在の状態を送る。
// 受信が遅れた場合は最新の状態だけが届く。ctxのキャンセルかCloseでチャネルは閉じられる。
func (o *ListOrchestrator) Watch(ctx context.Context) <-chan State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hub.subscribe(ctx, o.state.clone())
}

// Close は実行中の処理をすべてキャンセルし、購読を終了する。
func (o *ListOrchestrator) Close() {
	o.mu.Lock()
	o.load.stop()
	o.search.stop()
	o.refresh.stop()
	o.mu.Unlock()

	o.cancel()
	o.hub.close()
}

// Dispatch はイベントを処理する。ネットワークやキャッシュへのアクセスは非同期に行い、すぐに戻る。
func (o *ListOrchestrator) Dispatch(e Event) error {
	if e == nil {
		return model.NewInvalidEventError("イベントが指定されていません")
	}
	if o.root.Err() != nil {
		return nil
	}
	o.logger.Debug("イベントを受信しました", slog.String("event", e.eventName()))

	switch ev := e.(type) {
	case Load:
		o.withLock(func() { o.startListLocked() })
	case Refresh:
		o.withLock(o.startRefreshLocked)
	case LoadMore:
		o.withLock(o.startLoadMoreLocked)
	case SelectCategory:
		var category *model.Category
		if ev.Category != nil {
			c := *ev.Category
			category = &c
		}
		o.withLock(func() {
			o.state.SelectedCategory = category
			o.startListLocked()
		})
	case Search:
		o.withLock(func() { o.startSearchLocked(ev.Query) })
	case ToggleFavorite:
		if ev.ArticleID == "" {
			return model.NewInvalidEventError("記事IDが指定されていません")
		}
		go o.toggleFavorite(ev.ArticleID)
	case LoadFavorites:
		o.withLock(o.startFavoritesLocked)
	case ClearError:
		o.withLock(func() { o.state.Error = "" })
	default:
		return model.NewInvalidEventError(fmt.Sprintf("未対応のイベントです: %T", e))
	}
	return nil
}

func (o *ListOrchestrator) withLock(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
	o.publishLocked()
}

func (o *ListOrchestrator) publishLocked() {
	o.hub.publish(o.state.clone())
}

// startListLocked は選択中のカテゴリで1ページ目の読み込みを開始する。検索とお気に入りは解除する。
func (o *ListOrchestrator) startListLocked() {
	o.search.stop()
	o.state.Mode = ModeList
	o.state.SearchQuery = ""
	o.state.IsSearching = false
	o.state.ShowFavoritesOnly = false
	o.state.IsLoadingMore = false
	o.state.CurrentPage = 1
	o.state.HasMorePages = true
	// 1ページ目が届くまでLoadMoreを受け付けない
	o.state.IsLoading = true

	ctx, gen := o.load.issue(o.root)
	results := o.service.FetchList(ctx, 1, o.pageSize, o.state.SelectedCategory, false)
	go o.consumeList(results, &o.load, gen, false)
}

// startLoadMoreLocked は次のページの読み込みを開始する。
// 一覧モード以外、読み込み中、または次のページがない場合は何もしない。
func (o *ListOrchestrator) startLoadMoreLocked() {
	s := &o.state
	if s.Mode != ModeList || s.IsLoadingMore || s.IsLoading || !s.HasMorePages {
		return
	}
	s.CurrentPage++

	ctx, gen := o.load.issue(o.root)
	// 2ページ目以降でキャッシュの1ページ目を重複して追加しないよう、フォールバックは使わない
	results := o.service.FetchList(ctx, s.CurrentPage, o.pageSize, s.SelectedCategory, true)
	go o.consumeList(results, &o.load, gen, true)
}

func (o *ListOrchestrator) consumeList(results <-chan model.Result[[]model.Article], sl *slot, gen uint64, appendPage bool) {
	for r := range results {
		o.apply(sl, gen, func(s *State) {
			switch r.Status {
			case model.ResultLoading:
				if appendPage {
					s.IsLoadingMore = true
				} else {
					s.IsLoading = true
				}
				s.Error = ""
			case model.ResultSuccess:
				if appendPage {
					s.Articles = append(s.Articles, r.Value...)
					s.IsLoadingMore = false
				} else {
					s.Articles = r.Value
					s.IsLoading = false
					s.IsRefreshing = false
				}
				s.Error = ""
				s.HasMorePages = len(r.Value) > 0 && len(r.Value) >= o.pageSize
			case model.ResultError:
				if appendPage {
					s.IsLoadingMore = false
					s.CurrentPage--
				} else {
					s.IsLoading = false
					s.IsRefreshing = false
				}
				s.Error = r.Message
			}
		})
	}
}

// startRefreshLocked はキャッシュの更新を開始する。成功後、一覧モードであれば1ページ目を読み込み直す。
// 検索とお気に入りはキャッシュの変化を購読しているため、読み込み直さない。
func (o *ListOrchestrator) startRefreshLocked() {
	o.state.IsRefreshing = true
	o.state.Error = ""

	ctx, gen := o.refresh.issue(o.root)
	category := o.state.SelectedCategory
	go func() {
		err := o.service.Refresh(ctx, 1, o.pageSize, category)
		o.apply(&o.refresh, gen, func(s *State) {
			if err != nil {
				s.IsRefreshing = false
				s.Error = model.MessageOf(err)
				return
			}
			if s.Mode == ModeList {
				o.startListLocked()
				return
			}
			s.IsRefreshing = false
		})
	}()
}

// startSearchLocked は検索を開始する。空白のみの検索語は検索の解除として扱い、選択中のカテゴリで読み込み直す。
func (o *ListOrchestrator) startSearchLocked(query string) {
	if strings.TrimSpace(query) == "" {
		o.startListLocked()
		return
	}

	o.load.stop()
	o.leaveListLocked()
	o.state.Mode = ModeSearch
	o.state.SearchQuery = query
	o.state.ShowFavoritesOnly = false
	o.state.IsSearching = true
	o.state.IsLoading = false
	o.state.Error = ""

	ctx, gen := o.search.issue(o.root)
	results := o.service.Search(ctx, query)
	go o.consumeLive(results, &o.search, gen, func(s *State, r model.Result[[]model.Article]) {
		if !r.IsLoading() {
			s.IsSearching = false
		}
	})
}

// startFavoritesLocked はお気に入り記事の購読を開始する。
func (o *ListOrchestrator) startFavoritesLocked() {
	o.search.stop()
	o.leaveListLocked()
	o.state.Mode = ModeFavorites
	o.state.ShowFavoritesOnly = true
	o.state.SearchQuery = ""
	o.state.IsSearching = false
	o.state.SelectedCategory = nil

	ctx, gen := o.load.issue(o.root)
	results := o.service.Favorites(ctx)
	go o.consumeLive(results, &o.load, gen, func(s *State, r model.Result[[]model.Article]) {
		if r.IsLoading() {
			s.IsLoading = true
			s.Error = ""
			return
		}
		s.IsLoading = false
	})
}

// leaveListLocked は一覧モードから離れる際にページ送りの状態を初期化する。
func (o *ListOrchestrator) leaveListLocked() {
	o.state.IsLoadingMore = false
	o.state.CurrentPage = 1
	o.state.HasMorePages = true
}

// consumeLive は検索やお気に入りのライブ結果を状態に反映する。markは結果ごとの読み込みフラグを更新する。
func (o *ListOrchestrator) consumeLive(results <-chan model.Result[[]model.Article], sl *slot, gen uint64, mark func(*State, model.Result[[]model.Article])) {
	for r := range results {
		o.apply(sl, gen, func(s *State) {
			mark(s, r)
			switch r.Status {
			case model.ResultSuccess:
				s.Articles = r.Value
				s.Error = ""
			case model.ResultError:
				s.Error = r.Message
			}
		})
	}
}

// apply は枠の世代が現在のものであれば状態を更新して配信する。古い世代の結果は捨てる。
func (o *ListOrchestrator) apply(sl *slot, gen uint64, fn func(*State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !sl.current(gen) {
		return
	}
	fn(&o.state)
	o.publishLocked()
}

// toggleFavorite はお気に入り状態を反転する。
// キャッシュにない記事は何も変わらないため、状態も更新しない。
func (o *ListOrchestrator) toggleFavorite(id string) {
	a, err := o.service.ToggleFavorite(o.root, id)
	if err != nil {
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
		o.publishLocked()
		return
	}
	if a != nil {
		o.SyncFavorite(a.ID, a.IsFavorite)
	}
}

// SyncFavorite はキャッシュで更新されたお気に入り状態を表示中の一覧に反映する。
// 一覧モードの記事はキャッシュを購読していないため、他の経路で切り替えた場合もこれを呼ぶ。
// 検索とお気に入りはキャッシュの購読で反映されるため何もしない。
func (o *ListOrchestrator) SyncFavorite(id string, isFavorite bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.root.Err() != nil || o.state.Mode != ModeList {
		return
	}
	found := false
	articles := append([]model.Article(nil), o.state.Articles...)
	for i := range articles {
		if articles[i].ID == id {
			articles[i].IsFavorite = isFavorite
			found = true
		}
	}
	if !found {
		return
	}
	o.state.Articles = articles
	o.publishLocked()
}
