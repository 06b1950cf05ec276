package remote

import (
	"time"

	"github.com/hitoshi/newsreader/internal/model"
)

// ArticleDTO はリモートAPIの記事表現。お気に入り状態は含まない。
type ArticleDTO struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	Summary         string   `json:"summary"`
	ImageURL        *string  `json:"imageUrl,omitempty"`
	Author          string   `json:"author"`
	PublishedAt     int64    `json:"publishedAt"` // epochミリ秒
	Category        string   `json:"category"`
	ReadTimeMinutes int      `json:"readTimeMinutes"`
	Tags            []string `json:"tags"`
}

// ArticlesResponse は GET /api/articles のレスポンス。
type ArticlesResponse struct {
	Articles      []ArticleDTO `json:"articles"`
	Page          int          `json:"page"`
	PageSize      int          `json:"pageSize"`
	TotalPages    int          `json:"totalPages"`
	TotalArticles int          `json:"totalArticles"`
}

// CategoryDTO は GET /api/categories の要素。
type CategoryDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// ArticlesQuery は記事一覧取得の条件。
type ArticlesQuery struct {
	Page     int
	Limit    int
	Category *model.Category
	Search   string
}

// ToDomain はドメインモデルに変換する。IsFavoriteは常にfalse。
func (d ArticleDTO) ToDomain() model.Article {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	readTime := d.ReadTimeMinutes
	if readTime < 0 {
		readTime = 0
	}
	return model.Article{
		ID:              d.ID,
		Title:           d.Title,
		Content:         d.Content,
		Summary:         d.Summary,
		ImageURL:        d.ImageURL,
		Author:          d.Author,
		PublishedAt:     time.UnixMilli(d.PublishedAt).UTC(),
		Category:        model.ParseCategory(d.Category),
		ReadTimeMinutes: readTime,
		Tags:            tags,
	}
}

// ToEntity はキャッシュ行に変換する。
func (d ArticleDTO) ToEntity(cachedAt time.Time) model.ArticleEntity {
	return model.NewArticleEntity(d.ToDomain(), cachedAt)
}

// ToDomain はカテゴリ情報に変換する。
func (c CategoryDTO) ToDomain() model.CategoryInfo {
	return model.CategoryInfo{ID: c.ID, Name: c.Name, DisplayName: c.DisplayName}
}

// DTOsToDomain は記事DTOのスライスをドメインモデルに変換する。
func DTOsToDomain(dtos []ArticleDTO) []model.Article {
	articles := make([]model.Article, len(dtos))
	for i, d := range dtos {
		articles[i] = d.ToDomain()
	}
	return articles
}

// DTOsToEntities は記事DTOのスライスをキャッシュ行に変換する。
func DTOsToEntities(dtos []ArticleDTO, cachedAt time.Time) []model.ArticleEntity {
	entities := make([]model.ArticleEntity, len(dtos))
	for i, d := range dtos {
		entities[i] = d.ToEntity(cachedAt)
	}
	return entities
}
