// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/newsreader/internal/model"
)

// ArticleRepository は記事キャッシュの永続化インターフェース。
// 一覧系のメソッドはすべて published_at 降順、同時刻はid昇順で返す。
type ArticleRepository interface {
	// FindAll はキャッシュ済みの全記事を取得する。
	FindAll(ctx context.Context) ([]model.ArticleEntity, error)

	// FindByCategory は指定カテゴリの記事を取得する。
	FindByCategory(ctx context.Context, category model.Category) ([]model.ArticleEntity, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ArticleEntity, error)

	// Search はタイトル・要約・本文・著者のいずれかに部分一致する記事を取得する。
	// 大文字小文字は区別しない。
	Search(ctx context.Context, query string) ([]model.ArticleEntity, error)

	// FindFavorites はお気に入り登録された記事を取得する。
	FindFavorites(ctx context.Context) ([]model.ArticleEntity, error)

	// Count はキャッシュ済みの記事数を返す。
	Count(ctx context.Context) (int, error)

	// Upsert は記事を1件挿入または置換する。is_favoriteも引数の値で上書きする。
	Upsert(ctx context.Context, entity model.ArticleEntity) error

	// UpsertBatch は複数の記事を同一トランザクションで挿入または更新する。
	// 既存行のis_favoriteは維持する。
	UpsertBatch(ctx context.Context, entities []model.ArticleEntity) error

	// ReplaceAll は全記事を削除してから引き渡された記事を挿入する。
	// 同一トランザクションで実行し、残る記事のお気に入り状態は引き継ぐ。
	ReplaceAll(ctx context.Context, entities []model.ArticleEntity) error

	// UpdateFavorite は記事のお気に入り状態を更新する。
	// 対象の記事が存在しない場合はfalseを返す。
	UpdateFavorite(ctx context.Context, id string, isFavorite bool) (bool, error)

	// DeleteByID は指定IDの記事を削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteAll は全記事を削除する。
	DeleteAll(ctx context.Context) error

	// DeleteStale はcached_atがcachedBefore（エポックミリ秒）より古い記事を削除する。
	// お気に入り登録された記事は対象外。削除件数を返す。
	DeleteStale(ctx context.Context, cachedBefore int64) (int, error)
}
