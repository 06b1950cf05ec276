// Package cache はローカル記事キャッシュとライブクエリを提供する。
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/repository"
)

// Store は記事リポジトリをラップし、書き込みのたびに購読者へ通知する。
// リポジトリのエラーはすべてSTORAGE_FAILUREに変換して返す。
type Store struct {
	repo   repository.ArticleRepository
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewStore はStoreを生成する。
func NewStore(repo repository.ArticleRepository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// FindAll はキャッシュ済みの全記事を取得する。
func (s *Store) FindAll(ctx context.Context) ([]model.ArticleEntity, error) {
	entities, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, model.NewStorageFailureError("読み込み", err)
	}
	return entities, nil
}

// FindByCategory は指定カテゴリの記事を取得する。
func (s *Store) FindByCategory(ctx context.Context, category model.Category) ([]model.ArticleEntity, error) {
	entities, err := s.repo.FindByCategory(ctx, category)
	if err != nil {
		return nil, model.NewStorageFailureError("読み込み", err)
	}
	return entities, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (s *Store) FindByID(ctx context.Context, id string) (*model.ArticleEntity, error) {
	entity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewStorageFailureError("読み込み", err)
	}
	return entity, nil
}

// Search は部分一致検索を行う。
func (s *Store) Search(ctx context.Context, query string) ([]model.ArticleEntity, error) {
	entities, err := s.repo.Search(ctx, query)
	if err != nil {
		return nil, model.NewStorageFailureError("検索", err)
	}
	return entities, nil
}

// FindFavorites はお気に入り記事を取得する。
func (s *Store) FindFavorites(ctx context.Context) ([]model.ArticleEntity, error) {
	entities, err := s.repo.FindFavorites(ctx)
	if err != nil {
		return nil, model.NewStorageFailureError("読み込み", err)
	}
	return entities, nil
}

// Count はキャッシュ済みの記事数を返す。
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, model.NewStorageFailureError("件数取得", err)
	}
	return n, nil
}

// Upsert は記事を1件保存する。
func (s *Store) Upsert(ctx context.Context, entity model.ArticleEntity) error {
	if err := s.repo.Upsert(ctx, entity); err != nil {
		return model.NewStorageFailureError("書き込み", err)
	}
	s.notify()
	return nil
}

// UpsertBatch は複数の記事をまとめて保存する。
func (s *Store) UpsertBatch(ctx context.Context, entities []model.ArticleEntity) error {
	if err := s.repo.UpsertBatch(ctx, entities); err != nil {
		return model.NewStorageFailureError("書き込み", err)
	}
	s.notify()
	return nil
}

// ReplaceAll はキャッシュ全体を引き渡された記事で置き換える。
func (s *Store) ReplaceAll(ctx context.Context, entities []model.ArticleEntity) error {
	if err := s.repo.ReplaceAll(ctx, entities); err != nil {
		return model.NewStorageFailureError("置き換え", err)
	}
	s.notify()
	return nil
}

// UpdateFavorite はお気に入り状態を更新する。記事が存在しない場合はfalseを返す。
func (s *Store) UpdateFavorite(ctx context.Context, id string, isFavorite bool) (bool, error) {
	changed, err := s.repo.UpdateFavorite(ctx, id, isFavorite)
	if err != nil {
		return false, model.NewStorageFailureError("書き込み", err)
	}
	if changed {
		s.notify()
	}
	return changed, nil
}

// DeleteByID は指定IDの記事を削除する。
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return model.NewStorageFailureError("削除", err)
	}
	s.notify()
	return nil
}

// DeleteAll は全記事を削除する。
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return model.NewStorageFailureError("削除", err)
	}
	s.notify()
	return nil
}

// DeleteStale はcachedBeforeより前にキャッシュされたお気に入り以外の記事を削除し、削除件数を返す。
func (s *Store) DeleteStale(ctx context.Context, cachedBefore time.Time) (int, error) {
	n, err := s.repo.DeleteStale(ctx, cachedBefore.UnixMilli())
	if err != nil {
		return 0, model.NewStorageFailureError("削除", err)
	}
	if n > 0 {
		s.notify()
	}
	return n, nil
}

// Watch はライブクエリを開始する。
// 購読直後に現在のスナップショットを1件送り、以降は書き込みのたびに最新のスナップショットを送る。
// 受信が追いつかない場合、古いスナップショットは破棄される。
// ctxのキャンセルまたはSubscription.Closeで購読を終了し、Updatesのチャネルを閉じる。
func (s *Store) Watch(ctx context.Context, q Query) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:      uuid.New().String(),
		query:   q,
		updates: make(chan Snapshot),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub.ID] = sub
	s.mu.Unlock()

	s.logger.Debug("ライブクエリを開始しました",
		slog.String("subscription_id", sub.ID),
		slog.String("query", q.String()),
	)

	go s.run(ctx, sub)
	return sub, nil
}

// SubscriberCount は現在の購読数を返す。
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) run(ctx context.Context, sub *Subscription) {
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub.ID)
		s.mu.Unlock()
		close(sub.updates)
		s.logger.Debug("ライブクエリを終了しました", slog.String("subscription_id", sub.ID))
	}()

	for {
		snap := s.evaluate(ctx, sub.query)

	send:
		for {
			select {
			case sub.updates <- snap:
				break send
			case <-sub.dirty:
				// 送信待ちの間に書き込みがあったため最新の状態で評価し直す
				snap = s.evaluate(ctx, sub.query)
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}

		select {
		case <-sub.dirty:
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		}
	}
}

func (s *Store) evaluate(ctx context.Context, q Query) Snapshot {
	var (
		entities []model.ArticleEntity
		err      error
	)

	switch q.Kind {
	case QueryCategory:
		entities, err = s.FindByCategory(ctx, q.Category)
	case QuerySearch:
		entities, err = s.Search(ctx, q.Text)
	case QueryFavorites:
		entities, err = s.FindFavorites(ctx)
	case QueryByID:
		var entity *model.ArticleEntity
		entity, err = s.FindByID(ctx, q.ID)
		if entity != nil {
			entities = []model.ArticleEntity{*entity}
		} else if err == nil {
			entities = []model.ArticleEntity{}
		}
	default:
		entities, err = s.FindAll(ctx)
	}

	if err != nil {
		s.logger.Error("ライブクエリの評価に失敗しました",
			slog.String("query", q.String()),
			slog.String("error", err.Error()),
		)
		return Snapshot{Err: err}
	}
	return Snapshot{Articles: entities}
}

// notify は全購読者に再評価を要求する。保留中の要求がある購読者には重ねて送らない。
func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}

// Snapshot はライブクエリの1回分の結果。
type Snapshot struct {
	Articles []model.ArticleEntity
	Err      error
}

// Subscription はライブクエリの購読。
type Subscription struct {
	ID string

	query     Query
	updates   chan Snapshot
	dirty     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Updates はスナップショットを受信するチャネルを返す。購読終了時に閉じられる。
func (sub *Subscription) Updates() <-chan Snapshot {
	return sub.updates
}

// Query は購読中のクエリを返す。
func (sub *Subscription) Query() Query {
	return sub.query
}

// Close は購読を終了する。複数回呼び出しても安全。
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() { close(sub.done) })
}
