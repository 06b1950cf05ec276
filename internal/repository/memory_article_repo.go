package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hitoshi/newsreader/internal/model"
)

// MemoryArticleRepo はプロセス内のmapを使用した記事キャッシュリポジトリ。
// memory:// 指定時とテストで使用する。プロセス終了で内容は失われる。
type MemoryArticleRepo struct {
	mu       sync.RWMutex
	articles map[string]model.ArticleEntity
}

var _ ArticleRepository = (*MemoryArticleRepo)(nil)

// NewMemoryArticleRepo はMemoryArticleRepoを生成する。
func NewMemoryArticleRepo() *MemoryArticleRepo {
	return &MemoryArticleRepo{articles: make(map[string]model.ArticleEntity)}
}

// FindAll はキャッシュ済みの全記事を取得する。
func (r *MemoryArticleRepo) FindAll(_ context.Context) ([]model.ArticleEntity, error) {
	return r.filter(func(model.ArticleEntity) bool { return true }), nil
}

// FindByCategory は指定カテゴリの記事を取得する。
func (r *MemoryArticleRepo) FindByCategory(_ context.Context, category model.Category) ([]model.ArticleEntity, error) {
	name := category.DisplayName()
	return r.filter(func(e model.ArticleEntity) bool { return e.Category == name }), nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *MemoryArticleRepo) FindByID(_ context.Context, id string) (*model.ArticleEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.articles[id]
	if !ok {
		return nil, nil
	}
	e = cloneEntity(e)
	return &e, nil
}

// Search はタイトル・要約・本文・著者のいずれかに部分一致する記事を取得する。
func (r *MemoryArticleRepo) Search(_ context.Context, query string) ([]model.ArticleEntity, error) {
	q := strings.ToLower(query)
	return r.filter(func(e model.ArticleEntity) bool {
		return strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Summary), q) ||
			strings.Contains(strings.ToLower(e.Content), q) ||
			strings.Contains(strings.ToLower(e.Author), q)
	}), nil
}

// FindFavorites はお気に入り登録された記事を取得する。
func (r *MemoryArticleRepo) FindFavorites(_ context.Context) ([]model.ArticleEntity, error) {
	return r.filter(func(e model.ArticleEntity) bool { return e.IsFavorite }), nil
}

// Count はキャッシュ済みの記事数を返す。
func (r *MemoryArticleRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.articles), nil
}

// Upsert は記事を1件挿入または置換する。
func (r *MemoryArticleRepo) Upsert(_ context.Context, entity model.ArticleEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles[entity.ID] = cloneEntity(entity)
	return nil
}

// UpsertBatch は複数の記事を挿入または更新する。既存行のお気に入り状態は維持する。
func (r *MemoryArticleRepo) UpsertBatch(_ context.Context, entities []model.ArticleEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entities {
		if existing, ok := r.articles[e.ID]; ok {
			e.IsFavorite = existing.IsFavorite
		}
		r.articles[e.ID] = cloneEntity(e)
	}
	return nil
}

// ReplaceAll は全記事を引き渡された記事で置き換える。
func (r *MemoryArticleRepo) ReplaceAll(_ context.Context, entities []model.ArticleEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]model.ArticleEntity, len(entities))
	for _, e := range entities {
		if existing, ok := r.articles[e.ID]; ok && existing.IsFavorite {
			e.IsFavorite = true
		}
		next[e.ID] = cloneEntity(e)
	}
	r.articles = next
	return nil
}

// UpdateFavorite は記事のお気に入り状態を更新する。
func (r *MemoryArticleRepo) UpdateFavorite(_ context.Context, id string, isFavorite bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.articles[id]
	if !ok {
		return false, nil
	}
	e.IsFavorite = isFavorite
	r.articles[id] = e
	return true, nil
}

// DeleteByID は指定IDの記事を削除する。
func (r *MemoryArticleRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.articles, id)
	return nil
}

// DeleteAll は全記事を削除する。
func (r *MemoryArticleRepo) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles = make(map[string]model.ArticleEntity)
	return nil
}

// DeleteStale は保持期間を超過したお気に入り以外の記事を削除する。
func (r *MemoryArticleRepo) DeleteStale(_ context.Context, cachedBefore int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, e := range r.articles {
		if e.CachedAt < cachedBefore && !e.IsFavorite {
			delete(r.articles, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryArticleRepo) filter(match func(model.ArticleEntity) bool) []model.ArticleEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.ArticleEntity{}
	for _, e := range r.articles {
		if match(e) {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt != out[j].PublishedAt {
			return out[i].PublishedAt > out[j].PublishedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// cloneEntity はImageURLポインタを呼び出し元と共有しないようにコピーする。
func cloneEntity(e model.ArticleEntity) model.ArticleEntity {
	if e.ImageURL != nil {
		v := *e.ImageURL
		e.ImageURL = &v
	}
	return e
}
