package article

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/newsreader/internal/cache"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/remote"
	"github.com/hitoshi/newsreader/internal/repository"
)

// mockSource はSourceのモック。関数フィールドで挙動を差し替える。
type mockSource struct {
	getArticlesFn   func(ctx context.Context, q remote.ArticlesQuery) (*remote.ArticlesResponse, error)
	getArticleFn    func(ctx context.Context, id string) (*remote.ArticleDTO, error)
	getCategoriesFn func(ctx context.Context) ([]remote.CategoryDTO, error)
	calls           atomic.Int32
}

func (m *mockSource) GetArticles(ctx context.Context, q remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
	m.calls.Add(1)
	return m.getArticlesFn(ctx, q)
}

func (m *mockSource) GetArticle(ctx context.Context, id string) (*remote.ArticleDTO, error) {
	m.calls.Add(1)
	return m.getArticleFn(ctx, id)
}

func (m *mockSource) GetCategories(ctx context.Context) ([]remote.CategoryDTO, error) {
	m.calls.Add(1)
	return m.getCategoriesFn(ctx)
}

var errOffline = model.NewNetworkFailureError("接続に失敗しました", errors.New("dial tcp: connection refused"))

func offlineSource() *mockSource {
	return &mockSource{
		getArticlesFn: func(context.Context, remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
			return nil, errOffline
		},
		getArticleFn: func(context.Context, string) (*remote.ArticleDTO, error) {
			return nil, errOffline
		},
		getCategoriesFn: func(context.Context) ([]remote.CategoryDTO, error) {
			return nil, errOffline
		},
	}
}

func onlineSource(dtos ...remote.ArticleDTO) *mockSource {
	return &mockSource{
		getArticlesFn: func(_ context.Context, q remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
			return &remote.ArticlesResponse{Articles: dtos, Page: q.Page, PageSize: q.Limit}, nil
		},
		getArticleFn: func(_ context.Context, id string) (*remote.ArticleDTO, error) {
			for i := range dtos {
				if dtos[i].ID == id {
					return &dtos[i], nil
				}
			}
			return nil, model.NewNetworkFailureError("ステータス 404", &remote.StatusError{StatusCode: 404})
		},
		getCategoriesFn: func(context.Context) ([]remote.CategoryDTO, error) {
			return []remote.CategoryDTO{{ID: "1", Name: "TECHNOLOGY", DisplayName: "Technology"}}, nil
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func dto(id string, category model.Category, publishedAt int64) remote.ArticleDTO {
	return remote.ArticleDTO{
		ID:          id,
		Title:       "title " + id,
		Summary:     "summary " + id,
		Author:      "author",
		PublishedAt: publishedAt,
		Category:    category.DisplayName(),
		Tags:        []string{"news"},
	}
}

func seed(t *testing.T, store *cache.Store, dtos ...remote.ArticleDTO) {
	t.Helper()
	if err := store.UpsertBatch(context.Background(), remote.DTOsToEntities(dtos, time.Now())); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func newTestSynchronizer(source Source) (*Synchronizer, *cache.Store) {
	store := cache.NewStore(repository.NewMemoryArticleRepo(), testLogger())
	return NewSynchronizer(source, store, nil, testLogger()), store
}

// collect はストリームが閉じられるまで結果を集める。
func collect[T any](t *testing.T, ch <-chan model.Result[T]) []model.Result[T] {
	t.Helper()
	var out []model.Result[T]
	timeout := time.After(2 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("ストリームが閉じられませんでした: %+v", out)
		}
	}
}

// receive はストリームから1件受信する。
func receive[T any](t *testing.T, ch <-chan model.Result[T]) model.Result[T] {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatal("ストリームが閉じられています")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("結果の受信がタイムアウトしました")
	}
	return model.Result[T]{}
}

func articleIDs(articles []model.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func cachedIDs(t *testing.T, store *cache.Store) []string {
	t.Helper()
	entities, err := store.FindAll(context.Background())
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	return articleIDs(model.EntitiesToDomain(entities))
}

func TestFetchList_NetworkSuccess_ReplacesCache(t *testing.T) {
	sync, store := newTestSynchronizer(onlineSource(
		dto("new-1", model.CategoryTechnology, 30),
		dto("new-2", model.CategoryBusiness, 20),
	))
	seed(t, store, dto("old-1", model.CategoryTechnology, 10))

	results := collect(t, sync.FetchList(context.Background(), 1, 20, nil, false))

	if len(results) != 2 || !results[0].IsLoading() || !results[1].IsSuccess() {
		t.Fatalf("results = %+v, want [Loading Success]", results)
	}
	if got := articleIDs(results[1].Value); !reflect.DeepEqual(got, []string{"new-1", "new-2"}) {
		t.Errorf("emitted ids = %v", got)
	}
	if got := cachedIDs(t, store); !reflect.DeepEqual(got, []string{"new-1", "new-2"}) {
		t.Errorf("cache ids = %v, want exactly the fetched page", got)
	}
}

func TestFetchList_NetworkSuccessWithCategory_LeavesCache(t *testing.T) {
	var gotQuery remote.ArticlesQuery
	source := onlineSource(dto("biz-1", model.CategoryBusiness, 30))
	inner := source.getArticlesFn
	source.getArticlesFn = func(ctx context.Context, q remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
		gotQuery = q
		return inner(ctx, q)
	}
	sync, store := newTestSynchronizer(source)
	seed(t, store, dto("old-1", model.CategoryTechnology, 10))

	business := model.CategoryBusiness
	results := collect(t, sync.FetchList(context.Background(), 1, 20, &business, false))

	if len(results) != 2 || !results[1].IsSuccess() || results[1].Value[0].ID != "biz-1" {
		t.Fatalf("results = %+v", results)
	}
	if gotQuery.Category == nil || *gotQuery.Category != model.CategoryBusiness {
		t.Errorf("query category = %v, want Business", gotQuery.Category)
	}
	if got := cachedIDs(t, store); !reflect.DeepEqual(got, []string{"old-1"}) {
		t.Errorf("cache ids = %v, want untouched [old-1]", got)
	}
}

func TestFetchList_NetworkSuccess_KeepsFavoriteFlags(t *testing.T) {
	sync, store := newTestSynchronizer(onlineSource(dto("a", model.CategoryTechnology, 2), dto("b", model.CategoryTechnology, 1)))
	seed(t, store, dto("a", model.CategoryTechnology, 2))
	if _, err := sync.ToggleFavorite(context.Background(), "a"); err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}

	results := collect(t, sync.FetchList(context.Background(), 1, 20, nil, false))
	articles := results[len(results)-1].Value
	if !articles[0].IsFavorite || articles[1].IsFavorite {
		t.Errorf("favorite flags = %v/%v, want true/false", articles[0].IsFavorite, articles[1].IsFavorite)
	}
}

func TestFetchList_NetworkFailure_FallsBackToCategorySnapshot(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store,
		dto("tech-1", model.CategoryTechnology, 3),
		dto("biz-1", model.CategoryBusiness, 2),
		dto("tech-2", model.CategoryTechnology, 1),
	)

	tech := model.CategoryTechnology
	results := collect(t, sync.FetchList(context.Background(), 1, 20, &tech, false))

	if len(results) != 2 || !results[1].IsSuccess() {
		t.Fatalf("results = %+v, want [Loading Success]", results)
	}
	if got := articleIDs(results[1].Value); !reflect.DeepEqual(got, []string{"tech-1", "tech-2"}) {
		t.Errorf("fallback ids = %v, want [tech-1 tech-2]", got)
	}
	if store.SubscriberCount() != 0 {
		waitNoSubscribers(t, store)
	}

	all := collect(t, sync.FetchList(context.Background(), 1, 20, nil, false))
	if len(all[1].Value) != 3 {
		t.Errorf("full fallback = %d articles, want 3", len(all[1].Value))
	}
}

func TestFetchList_NetworkFailure_EmptyCacheEmitsError(t *testing.T) {
	sync, _ := newTestSynchronizer(offlineSource())

	results := collect(t, sync.FetchList(context.Background(), 1, 20, nil, false))

	if len(results) != 2 || !results[1].IsError() {
		t.Fatalf("results = %+v, want [Loading Error]", results)
	}
	if !model.IsNetworkFailure(results[1].Err) {
		t.Errorf("Err = %v, want NETWORK_FAILURE", results[1].Err)
	}
	if results[1].Message != errOffline.Message {
		t.Errorf("Message = %q, want %q", results[1].Message, errOffline.Message)
	}
}

func TestFetchList_NetworkFailure_ForceRefreshEmitsError(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryTechnology, 1))

	results := collect(t, sync.FetchList(context.Background(), 1, 20, nil, true))
	if len(results) != 2 || !results[1].IsError() {
		t.Fatalf("results = %+v, want [Loading Error]", results)
	}
}

func TestFetchList_NetworkFailure_NoRowsInCategoryEmitsError(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryTechnology, 1))

	sports := model.CategorySports
	results := collect(t, sync.FetchList(context.Background(), 1, 20, &sports, false))
	if len(results) != 2 || !results[1].IsError() {
		t.Fatalf("results = %+v, want [Loading Error]", results)
	}
}

func TestFetchList_StorageFailureIsSurfaced(t *testing.T) {
	store := cache.NewStore(&brokenRepo{ArticleRepository: repository.NewMemoryArticleRepo()}, testLogger())
	sync := NewSynchronizer(onlineSource(dto("a", model.CategoryTechnology, 1)), store, nil, testLogger())

	results := collect(t, sync.FetchList(context.Background(), 1, 20, nil, false))
	if len(results) != 2 || !model.IsStorageFailure(results[1].Err) {
		t.Fatalf("results = %+v, want STORAGE_FAILURE", results)
	}
}

func TestFetchList_PanicBecomesError(t *testing.T) {
	source := offlineSource()
	source.getArticlesFn = func(context.Context, remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
		panic("boom")
	}
	sync, _ := newTestSynchronizer(source)

	results := collect(t, sync.FetchList(context.Background(), 1, 20, nil, false))
	if len(results) != 2 || !results[1].IsError() {
		t.Fatalf("results = %+v, want [Loading Error]", results)
	}
}

func TestFetchList_CancelledContextClosesStream(t *testing.T) {
	release := make(chan struct{})
	source := offlineSource()
	source.getArticlesFn = func(ctx context.Context, _ remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
		<-release
		return nil, ctx.Err()
	}
	sync, _ := newTestSynchronizer(source)

	ctx, cancel := context.WithCancel(context.Background())
	ch := sync.FetchList(ctx, 1, 20, nil, false)
	if r := receive(t, ch); !r.IsLoading() {
		t.Fatalf("first result = %+v, want Loading", r)
	}
	cancel()
	close(release)

	if results := collect(t, ch); len(results) != 0 {
		t.Errorf("キャンセル後に結果を受信しました: %+v", results)
	}
}

func TestFetchByID_NetworkSuccessUpsertsAndResetsFavorite(t *testing.T) {
	sync, store := newTestSynchronizer(onlineSource(dto("a", model.CategoryScience, 1)))
	seed(t, store, dto("a", model.CategoryScience, 1))
	if _, err := sync.ToggleFavorite(context.Background(), "a"); err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}

	results := collect(t, sync.FetchByID(context.Background(), "a"))
	if len(results) != 2 || !results[1].IsSuccess() || results[1].Value.ID != "a" {
		t.Fatalf("results = %+v", results)
	}

	entity, _ := store.FindByID(context.Background(), "a")
	if entity == nil || entity.IsFavorite {
		t.Errorf("cached entity = %+v, want favorite reset to false", entity)
	}
}

func TestFetchByID_NetworkFailureFallsBackToCache(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryScience, 1))

	results := collect(t, sync.FetchByID(context.Background(), "a"))
	if len(results) != 2 || !results[1].IsSuccess() || results[1].Value.Category != model.CategoryScience {
		t.Fatalf("results = %+v", results)
	}

	missing := collect(t, sync.FetchByID(context.Background(), "missing"))
	if len(missing) != 2 || !model.IsNetworkFailure(missing[1].Err) {
		t.Fatalf("results = %+v, want NETWORK_FAILURE", missing)
	}
}

func TestToggleFavorite_DoubleToggleRestores(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryTechnology, 1))
	ctx := context.Background()

	a, err := sync.ToggleFavorite(ctx, "a")
	if err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}
	if a == nil || a.ID != "a" || !a.IsFavorite {
		t.Fatalf("ToggleFavorite = %+v, want favorite article a", a)
	}
	if e, _ := store.FindByID(ctx, "a"); !e.IsFavorite {
		t.Fatal("1回目の切り替えでお気に入りになるべき")
	}
	a, err = sync.ToggleFavorite(ctx, "a")
	if err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}
	if a == nil || a.IsFavorite {
		t.Errorf("ToggleFavorite = %+v, want non-favorite article", a)
	}
	if e, _ := store.FindByID(ctx, "a"); e.IsFavorite {
		t.Error("2回の切り替えで元の状態に戻るべき")
	}
}

func TestToggleFavorite_UnknownIDIsNoop(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryTechnology, 1))

	before, _ := store.FindAll(context.Background())
	a, err := sync.ToggleFavorite(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("ToggleFavorite(unknown) returned error: %v", err)
	}
	if a != nil {
		t.Errorf("ToggleFavorite(unknown) = %+v, want nil", a)
	}
	after, _ := store.FindAll(context.Background())
	if !reflect.DeepEqual(before, after) {
		t.Errorf("cache changed: %+v -> %+v", before, after)
	}
}

func TestSearch_LocalLiveResults(t *testing.T) {
	source := offlineSource()
	sync, store := newTestSynchronizer(source)

	kotlin := dto("k", model.CategoryTechnology, 3)
	kotlin.Title = "Kotlin Multiplatform"
	byAuthor := dto("au", model.CategoryTechnology, 2)
	byAuthor.Author = "KotlinConf"
	other := dto("o", model.CategoryTechnology, 1)
	seed(t, store, kotlin, byAuthor, other)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sync.Search(ctx, "kotlin")

	if r := receive(t, ch); !r.IsLoading() {
		t.Fatalf("first result = %+v, want Loading", r)
	}
	r := receive(t, ch)
	if got := articleIDs(r.Value); !reflect.DeepEqual(got, []string{"k", "au"}) {
		t.Errorf("search ids = %v, want [k au]", got)
	}

	later := dto("later", model.CategoryTechnology, 4)
	later.Content = "about kotlin coroutines"
	seed(t, store, later)

	r = receive(t, ch)
	if got := articleIDs(r.Value); !reflect.DeepEqual(got, []string{"later", "k", "au"}) {
		t.Errorf("search ids after write = %v", got)
	}
	if source.calls.Load() != 0 {
		t.Errorf("Search should not touch the network, got %d calls", source.calls.Load())
	}

	cancel()
	collect(t, ch)
}

func TestFavorites_ObservesToggle(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryTechnology, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sync.Favorites(ctx)

	receive(t, ch) // Loading
	if r := receive(t, ch); len(r.Value) != 0 {
		t.Fatalf("initial favorites = %v, want empty", r.Value)
	}

	if _, err := sync.ToggleFavorite(context.Background(), "a"); err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}
	if r := receive(t, ch); len(r.Value) != 1 || !r.Value[0].IsFavorite {
		t.Errorf("favorites after toggle = %+v", r.Value)
	}
}

func TestObserveArticle(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sync.ObserveArticle(ctx, "a")

	receive(t, ch) // Loading
	if r := receive(t, ch); model.CodeOf(r.Err) != model.ErrCodeArticleNotFound {
		t.Fatalf("result = %+v, want ARTICLE_NOT_FOUND", r)
	}

	seed(t, store, dto("a", model.CategoryTechnology, 1))
	if r := receive(t, ch); !r.IsSuccess() || r.Value.ID != "a" {
		t.Errorf("result after write = %+v", r)
	}
}

func TestRefresh_UpsertsAndPreservesFavorites(t *testing.T) {
	sync, store := newTestSynchronizer(onlineSource(dto("a", model.CategoryTechnology, 2), dto("b", model.CategoryTechnology, 1)))
	seed(t, store, dto("a", model.CategoryTechnology, 2), dto("old", model.CategoryTechnology, 0))
	ctx := context.Background()
	if _, err := sync.ToggleFavorite(ctx, "a"); err != nil {
		t.Fatalf("ToggleFavorite returned error: %v", err)
	}

	if err := sync.Refresh(ctx, 1, 20, nil); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if got := cachedIDs(t, store); !reflect.DeepEqual(got, []string{"a", "b", "old"}) {
		t.Errorf("cache ids = %v, want [a b old]", got)
	}
	if e, _ := store.FindByID(ctx, "a"); !e.IsFavorite {
		t.Error("Refresh後もお気に入り状態は維持されるべき")
	}
}

func TestRefresh_NetworkFailureReturnsError(t *testing.T) {
	sync, _ := newTestSynchronizer(offlineSource())
	if err := sync.Refresh(context.Background(), 1, 20, nil); !model.IsNetworkFailure(err) {
		t.Errorf("Refresh error = %v, want NETWORK_FAILURE", err)
	}
}

func TestClearCache(t *testing.T) {
	sync, store := newTestSynchronizer(offlineSource())
	seed(t, store, dto("a", model.CategoryTechnology, 1))

	if err := sync.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache returned error: %v", err)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestCategories(t *testing.T) {
	online, _ := newTestSynchronizer(onlineSource())
	if got := online.Categories(context.Background()); len(got) != 1 || got[0].DisplayName != "Technology" {
		t.Errorf("online categories = %+v", got)
	}

	offline, _ := newTestSynchronizer(offlineSource())
	got := offline.Categories(context.Background())
	if len(got) != 6 || got[5].DisplayName != "Health" {
		t.Errorf("fallback categories = %+v", got)
	}
}

func waitNoSubscribers(t *testing.T, store *cache.Store) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("フォールバック後も購読が残っています: %d", store.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// brokenRepo は書き込みでエラーを返すリポジトリ。
type brokenRepo struct {
	repository.ArticleRepository
}

func (r *brokenRepo) ReplaceAll(context.Context, []model.ArticleEntity) error {
	return errors.New("database is locked")
}
