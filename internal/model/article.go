// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Category は記事カテゴリを表す。値は表示名そのもの。
type Category string

const (
	CategoryTechnology    Category = "Technology"
	CategoryBusiness      Category = "Business"
	CategoryEntertainment Category = "Entertainment"
	CategorySports        Category = "Sports"
	CategoryScience       Category = "Science"
	CategoryHealth        Category = "Health"
)

// categories は表示順を保持したカテゴリ一覧。
var categories = []Category{
	CategoryTechnology,
	CategoryBusiness,
	CategoryEntertainment,
	CategorySports,
	CategoryScience,
	CategoryHealth,
}

// Categories は全カテゴリを表示順で返す。
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Name はカテゴリの識別名（TECHNOLOGY等）を返す。
func (c Category) Name() string {
	return strings.ToUpper(string(c))
}

// DisplayName はカテゴリの表示名を返す。
func (c Category) DisplayName() string {
	return string(c)
}

// LookupCategory は文字列を大文字小文字を区別せずにカテゴリへ照合する。
// 識別名（TECHNOLOGY）と表示名（Technology）のどちらも受け付ける。
func LookupCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range categories {
		if strings.EqualFold(s, c.Name()) {
			return c, true
		}
	}
	return "", false
}

// ParseCategory は文字列をカテゴリに変換する。
// 未知の値はCategoryTechnologyとして扱う。
func ParseCategory(s string) Category {
	if c, ok := LookupCategory(s); ok {
		return c
	}
	return CategoryTechnology
}

// CategoryInfo はリモートから取得したカテゴリ情報。
type CategoryInfo struct {
	ID          string
	Name        string
	DisplayName string
}

// Article はUIに提示される記事のドメインモデル。
// IsFavoriteはローカルキャッシュのみが保持する状態で、ネットワークからは受け取らない。
type Article struct {
	ID              string
	Title           string
	Content         string
	Summary         string
	ImageURL        *string
	Author          string
	PublishedAt     time.Time
	Category        Category
	ReadTimeMinutes int
	Tags            []string
	IsFavorite      bool
}

// ArticleEntity はキャッシュテーブルの1行を表す。
// タグはカンマ区切り文字列、日時はepochミリ秒で保持する。
type ArticleEntity struct {
	ID              string
	Title           string
	Content         string
	Summary         string
	ImageURL        *string
	Author          string
	PublishedAt     int64
	Category        string
	ReadTimeMinutes int64
	Tags            string
	IsFavorite      bool
	CachedAt        int64
}

// tagSeparator はタグ列の区切り文字。
const tagSeparator = ","

// JoinTags はタグ列をキャッシュ保存用の文字列に結合する。
func JoinTags(tags []string) string {
	return strings.Join(tags, tagSeparator)
}

// SplitTags はキャッシュ保存形式のタグ文字列を分割する。空文字列は空スライスになる。
func SplitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, tagSeparator)
}

// ToDomain はキャッシュ行をドメインモデルに変換する。
func (e ArticleEntity) ToDomain() Article {
	return Article{
		ID:              e.ID,
		Title:           e.Title,
		Content:         e.Content,
		Summary:         e.Summary,
		ImageURL:        e.ImageURL,
		Author:          e.Author,
		PublishedAt:     time.UnixMilli(e.PublishedAt).UTC(),
		Category:        ParseCategory(e.Category),
		ReadTimeMinutes: int(e.ReadTimeMinutes),
		Tags:            SplitTags(e.Tags),
		IsFavorite:      e.IsFavorite,
	}
}

// NewArticleEntity はドメインモデルからキャッシュ行を生成する。
func NewArticleEntity(a Article, cachedAt time.Time) ArticleEntity {
	return ArticleEntity{
		ID:              a.ID,
		Title:           a.Title,
		Content:         a.Content,
		Summary:         a.Summary,
		ImageURL:        a.ImageURL,
		Author:          a.Author,
		PublishedAt:     a.PublishedAt.UnixMilli(),
		Category:        a.Category.DisplayName(),
		ReadTimeMinutes: int64(a.ReadTimeMinutes),
		Tags:            JoinTags(a.Tags),
		IsFavorite:      a.IsFavorite,
		CachedAt:        cachedAt.UnixMilli(),
	}
}

// EntitiesToDomain はキャッシュ行のスライスをドメインモデルのスライスに変換する。
func EntitiesToDomain(entities []ArticleEntity) []Article {
	articles := make([]Article, len(entities))
	for i, e := range entities {
		articles[i] = e.ToDomain()
	}
	return articles
}
