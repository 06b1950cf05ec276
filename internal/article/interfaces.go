package article

import (
	"context"

	"github.com/hitoshi/newsreader/internal/cache"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/remote"
)

// Source は記事のリモートソース。remote.Clientとrss.Sourceが実装する。
type Source interface {
	GetArticles(ctx context.Context, q remote.ArticlesQuery) (*remote.ArticlesResponse, error)
	GetArticle(ctx context.Context, id string) (*remote.ArticleDTO, error)
	GetCategories(ctx context.Context) ([]remote.CategoryDTO, error)
}

// Cache はローカル記事キャッシュ。cache.Storeが実装する。
type Cache interface {
	Count(ctx context.Context) (int, error)
	FindByID(ctx context.Context, id string) (*model.ArticleEntity, error)
	FindFavorites(ctx context.Context) ([]model.ArticleEntity, error)
	Upsert(ctx context.Context, entity model.ArticleEntity) error
	UpsertBatch(ctx context.Context, entities []model.ArticleEntity) error
	ReplaceAll(ctx context.Context, entities []model.ArticleEntity) error
	UpdateFavorite(ctx context.Context, id string, isFavorite bool) (bool, error)
	DeleteAll(ctx context.Context) error
	Watch(ctx context.Context, q cache.Query) (*cache.Subscription, error)
}

var _ Cache = (*cache.Store)(nil)
