// Package article はリモートソースとローカルキャッシュを突き合わせて記事を提供する。
//
// 一覧と詳細はネットワークを優先し、通信に失敗した場合のみキャッシュへフォールバックする。
// 検索とお気に入りはキャッシュのみを参照するライブストリームとして提供する。
package article

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsreader/internal/cache"
	"github.com/hitoshi/newsreader/internal/metrics"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/remote"
)

// Synchronizer は記事の取得・検索・お気に入り操作を提供する。
//
// ストリームを返すメソッドは、最初にLoadingを送り、完了またはctxのキャンセルでチャネルを閉じる。
// 受信側はチャネルが閉じられるまで読み続けるか、ctxをキャンセルすること。
type Synchronizer struct {
	source  Source
	cache   Cache
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewSynchronizer はSynchronizerを生成する。metricsがnilの場合は記録しない。
func NewSynchronizer(source Source, c Cache, m metrics.MetricsCollector, logger *slog.Logger) *Synchronizer {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		source:  source,
		cache:   c,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchList は記事一覧を取得する。
//
// 通信成功時、カテゴリ指定がなければキャッシュ全体を取得したページで置き換えてから結果を送る。
// カテゴリ指定がある場合はキャッシュに書き込まない。
// 通信失敗時、キャッシュが空でなくforceRefreshがfalseであれば、キャッシュの最初のスナップショットを1回だけ送る。
// それ以外は通信エラーを送る。
func (s *Synchronizer) FetchList(ctx context.Context, page, pageSize int, category *model.Category, forceRefresh bool) <-chan model.Result[[]model.Article] {
	return stream(ctx, s.logger, "fetch_list", func(emit func(model.Result[[]model.Article]) bool) {
		if !emit(model.Loading[[]model.Article]()) {
			return
		}

		resp, err := s.source.GetArticles(ctx, remote.ArticlesQuery{
			Page:     page,
			Limit:    pageSize,
			Category: category,
		})
		if err == nil {
			articles, err := s.storeList(ctx, resp.Articles, category == nil)
			if err != nil {
				emit(model.Failure[[]model.Article](err))
				return
			}
			emit(model.Success(articles))
			return
		}
		if ctx.Err() != nil {
			return
		}

		emit(s.fallbackList(ctx, err, category, forceRefresh))
	})
}

// storeList は取得した記事をドメインモデルに変換し、必要であればキャッシュを置き換える。
// お気に入り状態はキャッシュを正とするため、キャッシュの値を反映して返す。
func (s *Synchronizer) storeList(ctx context.Context, dtos []remote.ArticleDTO, replace bool) ([]model.Article, error) {
	if replace {
		if err := s.cache.ReplaceAll(ctx, remote.DTOsToEntities(dtos, s.now())); err != nil {
			return nil, err
		}
		s.metrics.RecordArticlesCached(len(dtos))
	}

	favorites, err := s.cache.FindFavorites(ctx)
	if err != nil {
		return nil, err
	}
	favoriteIDs := make(map[string]bool, len(favorites))
	for _, f := range favorites {
		favoriteIDs[f.ID] = true
	}

	articles := remote.DTOsToDomain(dtos)
	for i := range articles {
		articles[i].IsFavorite = favoriteIDs[articles[i].ID]
	}
	return articles, nil
}

func (s *Synchronizer) fallbackList(ctx context.Context, networkErr error, category *model.Category, forceRefresh bool) model.Result[[]model.Article] {
	if forceRefresh {
		return model.Failure[[]model.Article](networkErr)
	}

	count, err := s.cache.Count(ctx)
	if err != nil {
		return model.Failure[[]model.Article](err)
	}
	if count == 0 {
		return model.Failure[[]model.Article](networkErr)
	}

	q := cache.All()
	if category != nil {
		q = cache.ByCategory(*category)
	}

	snap, err := s.firstSnapshot(ctx, q)
	if err != nil {
		return model.Failure[[]model.Article](err)
	}
	if snap.Err != nil {
		return model.Failure[[]model.Article](snap.Err)
	}
	if len(snap.Articles) == 0 {
		return model.Failure[[]model.Article](networkErr)
	}

	s.metrics.RecordCacheFallback("fetch_list")
	s.logger.Info("通信に失敗したためキャッシュの記事を表示します",
		slog.String("query", q.String()),
		slog.Int("count", len(snap.Articles)),
		slog.String("error", networkErr.Error()),
	)
	return model.Success(model.EntitiesToDomain(snap.Articles))
}

// firstSnapshot はライブクエリの最初のスナップショットを1件だけ受け取り、購読を終了する。
func (s *Synchronizer) firstSnapshot(ctx context.Context, q cache.Query) (cache.Snapshot, error) {
	sub, err := s.cache.Watch(ctx, q)
	if err != nil {
		return cache.Snapshot{}, err
	}
	defer sub.Close()

	select {
	case snap, ok := <-sub.Updates():
		if !ok {
			return cache.Snapshot{}, ctx.Err()
		}
		return snap, nil
	case <-ctx.Done():
		return cache.Snapshot{}, ctx.Err()
	}
}

// FetchByID は記事を1件取得する。
// 通信成功時はキャッシュに保存してから送る。保存時のお気に入り状態は受信データの既定値（false）になる。
// 通信失敗時はキャッシュを参照し、見つからなければ通信エラーを送る。
func (s *Synchronizer) FetchByID(ctx context.Context, id string) <-chan model.Result[model.Article] {
	return stream(ctx, s.logger, "fetch_by_id", func(emit func(model.Result[model.Article]) bool) {
		if !emit(model.Loading[model.Article]()) {
			return
		}

		dto, err := s.source.GetArticle(ctx, id)
		if err == nil {
			if err := s.cache.Upsert(ctx, dto.ToEntity(s.now())); err != nil {
				emit(model.Failure[model.Article](err))
				return
			}
			s.metrics.RecordArticlesCached(1)
			emit(model.Success(dto.ToDomain()))
			return
		}
		if ctx.Err() != nil {
			return
		}

		entity, cacheErr := s.cache.FindByID(ctx, id)
		if cacheErr != nil {
			emit(model.Failure[model.Article](cacheErr))
			return
		}
		if entity == nil {
			emit(model.Failure[model.Article](err))
			return
		}

		s.metrics.RecordCacheFallback("fetch_by_id")
		s.logger.Info("通信に失敗したためキャッシュの記事を表示します",
			slog.String("article_id", id),
			slog.String("error", err.Error()),
		)
		emit(model.Success(entity.ToDomain()))
	})
}

// Search はキャッシュを部分一致で検索し、キャッシュが変化するたびに結果を送る。
// ネットワークには接続しない。空の検索語は呼び出し元で扱うこと。
func (s *Synchronizer) Search(ctx context.Context, query string) <-chan model.Result[[]model.Article] {
	return s.watchList(ctx, "search", cache.Search(query))
}

// Favorites はお気に入り記事を、キャッシュが変化するたびに送る。
func (s *Synchronizer) Favorites(ctx context.Context) <-chan model.Result[[]model.Article] {
	return s.watchList(ctx, "favorites", cache.Favorites())
}

func (s *Synchronizer) watchList(ctx context.Context, op string, q cache.Query) <-chan model.Result[[]model.Article] {
	return stream(ctx, s.logger, op, func(emit func(model.Result[[]model.Article]) bool) {
		if !emit(model.Loading[[]model.Article]()) {
			return
		}

		sub, err := s.cache.Watch(ctx, q)
		if err != nil {
			emit(model.Failure[[]model.Article](err))
			return
		}
		defer sub.Close()

		for snap := range sub.Updates() {
			var r model.Result[[]model.Article]
			if snap.Err != nil {
				// エラーでも購読は継続する
				r = model.Failure[[]model.Article](snap.Err)
			} else {
				r = model.Success(model.EntitiesToDomain(snap.Articles))
			}
			if !emit(r) {
				return
			}
		}
	})
}

// ObserveArticle はキャッシュ上の記事1件を、変化するたびに送る。
// キャッシュにない場合はARTICLE_NOT_FOUNDを送り、購読は継続する。
func (s *Synchronizer) ObserveArticle(ctx context.Context, id string) <-chan model.Result[model.Article] {
	return stream(ctx, s.logger, "observe_article", func(emit func(model.Result[model.Article]) bool) {
		if !emit(model.Loading[model.Article]()) {
			return
		}

		sub, err := s.cache.Watch(ctx, cache.ByID(id))
		if err != nil {
			emit(model.Failure[model.Article](err))
			return
		}
		defer sub.Close()

		for snap := range sub.Updates() {
			var r model.Result[model.Article]
			switch {
			case snap.Err != nil:
				r = model.Failure[model.Article](snap.Err)
			case len(snap.Articles) == 0:
				r = model.Failure[model.Article](model.NewArticleNotFoundError(id))
			default:
				r = model.Success(snap.Articles[0].ToDomain())
			}
			if !emit(r) {
				return
			}
		}
	})
}

// ToggleFavorite は記事のお気に入り状態を反転し、更新後の記事を返す。
// キャッシュにない記事は何もせず、nil, nilを返す。
func (s *Synchronizer) ToggleFavorite(ctx context.Context, id string) (_ *model.Article, err error) {
	defer recoverInto(s.logger, "toggle_favorite", &err)

	entity, err := s.cache.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		s.logger.Debug("キャッシュにない記事のお気に入り切り替えを無視しました",
			slog.String("article_id", id),
		)
		return nil, nil
	}

	changed, err := s.cache.UpdateFavorite(ctx, id, !entity.IsFavorite)
	if err != nil {
		return nil, err
	}
	if !changed {
		// 読み込みと更新の間に削除された
		return nil, nil
	}
	s.metrics.RecordFavoriteToggle()

	a := entity.ToDomain()
	a.IsFavorite = !entity.IsFavorite
	return &a, nil
}

// Refresh はネットワークから記事を取得してキャッシュに保存する。既存記事のお気に入り状態は維持する。
func (s *Synchronizer) Refresh(ctx context.Context, page, pageSize int, category *model.Category) (err error) {
	defer recoverInto(s.logger, "refresh", &err)

	resp, err := s.source.GetArticles(ctx, remote.ArticlesQuery{
		Page:     page,
		Limit:    pageSize,
		Category: category,
	})
	if err != nil {
		return err
	}

	if err := s.cache.UpsertBatch(ctx, remote.DTOsToEntities(resp.Articles, s.now())); err != nil {
		return err
	}
	s.metrics.RecordArticlesCached(len(resp.Articles))
	s.logger.Info("キャッシュを更新しました",
		slog.Int("page", page),
		slog.Int("count", len(resp.Articles)),
	)
	return nil
}

// ClearCache はキャッシュの全記事を削除する。
func (s *Synchronizer) ClearCache(ctx context.Context) (err error) {
	defer recoverInto(s.logger, "clear_cache", &err)
	return s.cache.DeleteAll(ctx)
}

// Categories はカテゴリ一覧を取得する。取得できない場合は固定のカテゴリ一覧を返す。
func (s *Synchronizer) Categories(ctx context.Context) []model.CategoryInfo {
	dtos, err := s.source.GetCategories(ctx)
	if err == nil && len(dtos) > 0 {
		out := make([]model.CategoryInfo, len(dtos))
		for i, d := range dtos {
			out[i] = d.ToDomain()
		}
		return out
	}

	if err != nil {
		s.logger.Warn("カテゴリ一覧の取得に失敗したため既定の一覧を使用します",
			slog.String("error", err.Error()),
		)
	}
	categories := model.Categories()
	out := make([]model.CategoryInfo, len(categories))
	for i, c := range categories {
		out[i] = model.CategoryInfo{ID: c.Name(), Name: c.Name(), DisplayName: c.DisplayName()}
	}
	return out
}

// stream はbodyを別goroutineで実行し、emitされた結果をチャネルで返す。
// bodyのpanicはErrorの結果に変換する。
func stream[T any](ctx context.Context, logger *slog.Logger, op string, body func(emit func(model.Result[T]) bool)) <-chan model.Result[T] {
	out := make(chan model.Result[T])

	emit := func(r model.Result[T]) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("ストリーム処理でpanicが発生しました",
					slog.String("operation", op),
					slog.Any("panic", rec),
				)
				emit(model.Failure[T](fmt.Errorf("%s: 予期しないエラーが発生しました: %v", op, rec)))
			}
		}()
		body(emit)
	}()

	return out
}

func recoverInto(logger *slog.Logger, op string, err *error) {
	if rec := recover(); rec != nil {
		logger.Error("処理中にpanicが発生しました",
			slog.String("operation", op),
			slog.Any("panic", rec),
		)
		*err = fmt.Errorf("%s: 予期しないエラーが発生しました: %v", op, rec)
	}
}
