package presenter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/newsreader/internal/model"
)

type fetchCall struct {
	Page         int
	PageSize     int
	Category     *model.Category
	ForceRefresh bool
}

type refreshCall struct {
	Page     int
	Category *model.Category
}

// fakeService はListServiceとDetailServiceのモック。関数フィールドで挙動を差し替える。
type fakeService struct {
	fetchFn     func(ctx context.Context, call fetchCall) <-chan model.Result[[]model.Article]
	searchFn    func(ctx context.Context, query string) <-chan model.Result[[]model.Article]
	favoritesFn func(ctx context.Context) <-chan model.Result[[]model.Article]
	toggleFn    func(ctx context.Context, id string) (*model.Article, error)
	refreshFn   func(ctx context.Context, page, pageSize int, category *model.Category) error
	fetchByIDFn func(ctx context.Context, id string) <-chan model.Result[model.Article]
	observeFn   func(ctx context.Context, id string) <-chan model.Result[model.Article]

	mu           sync.Mutex
	fetchCalls   []fetchCall
	searchCalls  []string
	toggleCalls  []string
	refreshCalls []refreshCall
	favorites    map[string]bool
}

func (f *fakeService) FetchList(ctx context.Context, page, pageSize int, category *model.Category, forceRefresh bool) <-chan model.Result[[]model.Article] {
	call := fetchCall{Page: page, PageSize: pageSize, Category: category, ForceRefresh: forceRefresh}
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, call)
	f.mu.Unlock()
	return f.fetchFn(ctx, call)
}

func (f *fakeService) Search(ctx context.Context, query string) <-chan model.Result[[]model.Article] {
	f.mu.Lock()
	f.searchCalls = append(f.searchCalls, query)
	f.mu.Unlock()
	return f.searchFn(ctx, query)
}

func (f *fakeService) Favorites(ctx context.Context) <-chan model.Result[[]model.Article] {
	return f.favoritesFn(ctx)
}

// ToggleFavorite はtoggleFnがない場合、すべての記事がキャッシュにあるものとしてフラグを反転する。
func (f *fakeService) ToggleFavorite(ctx context.Context, id string) (*model.Article, error) {
	f.mu.Lock()
	f.toggleCalls = append(f.toggleCalls, id)
	toggleFn := f.toggleFn
	if toggleFn == nil {
		if f.favorites == nil {
			f.favorites = make(map[string]bool)
		}
		f.favorites[id] = !f.favorites[id]
		a := &model.Article{ID: id, IsFavorite: f.favorites[id]}
		f.mu.Unlock()
		return a, nil
	}
	f.mu.Unlock()
	return toggleFn(ctx, id)
}

func (f *fakeService) Refresh(ctx context.Context, page, pageSize int, category *model.Category) error {
	f.mu.Lock()
	f.refreshCalls = append(f.refreshCalls, refreshCall{Page: page, Category: category})
	f.mu.Unlock()
	if f.refreshFn == nil {
		return nil
	}
	return f.refreshFn(ctx, page, pageSize, category)
}

func (f *fakeService) FetchByID(ctx context.Context, id string) <-chan model.Result[model.Article] {
	return f.fetchByIDFn(ctx, id)
}

func (f *fakeService) ObserveArticle(ctx context.Context, id string) <-chan model.Result[model.Article] {
	return f.observeFn(ctx, id)
}

func (f *fakeService) fetches() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.fetchCalls...)
}

func (f *fakeService) lastFetch(t *testing.T) fetchCall {
	t.Helper()
	calls := f.fetches()
	if len(calls) == 0 {
		t.Fatal("FetchListが呼び出されていません")
	}
	return calls[len(calls)-1]
}

// results はLoadingに続けてrsを送り、閉じられるチャネルを返す。
func results[T any](rs ...model.Result[T]) <-chan model.Result[T] {
	ch := make(chan model.Result[T], len(rs)+1)
	ch <- model.Loading[T]()
	for _, r := range rs {
		ch <- r
	}
	close(ch)
	return ch
}

// live はLoadingに続けてrsを送り、ctxがキャンセルされるまで開いたままのチャネルを返す。
func live[T any](ctx context.Context, rs ...model.Result[T]) <-chan model.Result[T] {
	ch := make(chan model.Result[T], len(rs)+1)
	ch <- model.Loading[T]()
	for _, r := range rs {
		ch <- r
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func makeArticles(prefix string, n int) []model.Article {
	out := make([]model.Article, n)
	for i := range out {
		out[i] = model.Article{
			ID:       fmt.Sprintf("%s-%d", prefix, i+1),
			Title:    fmt.Sprintf("%s article %d", prefix, i+1),
			Category: model.CategoryTechnology,
			Tags:     []string{},
		}
	}
	return out
}

func categoryPtr(c model.Category) *model.Category {
	return &c
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// waitState は条件を満たす状態になるまで待つ。
func waitState(t *testing.T, o *ListOrchestrator, desc string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := o.State()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: 条件を満たす状態になりませんでした: %+v", desc, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDetail(t *testing.T, o *DetailOrchestrator, desc string, cond func(DetailState) bool) DetailState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := o.State()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: 条件を満たす状態になりませんでした: %+v", desc, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
