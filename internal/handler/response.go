package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/presenter"
)

// articleResponse は記事のレスポンス。publishedAtはエポックミリ秒。
type articleResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	Summary         string   `json:"summary"`
	ImageURL        *string  `json:"imageUrl,omitempty"`
	Author          string   `json:"author"`
	PublishedAt     int64    `json:"publishedAt"`
	Category        string   `json:"category"`
	ReadTimeMinutes int      `json:"readTimeMinutes"`
	Tags            []string `json:"tags"`
	IsFavorite      bool     `json:"isFavorite"`
}

// stateResponse は一覧画面の状態のレスポンス。
type stateResponse struct {
	Articles          []articleResponse `json:"articles"`
	IsLoading         bool              `json:"isLoading"`
	IsRefreshing      bool              `json:"isRefreshing"`
	IsLoadingMore     bool              `json:"isLoadingMore"`
	IsSearching       bool              `json:"isSearching"`
	Error             string            `json:"error,omitempty"`
	ErrorView         string            `json:"errorView"`
	SelectedCategory  *string           `json:"selectedCategory"`
	SearchQuery       string            `json:"searchQuery"`
	ShowFavoritesOnly bool              `json:"showFavoritesOnly"`
	CurrentPage       int               `json:"currentPage"`
	HasMorePages      bool              `json:"hasMorePages"`
	Mode              string            `json:"mode"`
}

// detailStateResponse は詳細画面の状態のレスポンス。
type detailStateResponse struct {
	Article   *articleResponse `json:"article"`
	IsLoading bool             `json:"isLoading"`
	Error     string           `json:"error,omitempty"`
	ErrorView string           `json:"errorView"`
}

// categoryResponse はカテゴリのレスポンス。
type categoryResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func toArticleResponse(a model.Article) articleResponse {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return articleResponse{
		ID:              a.ID,
		Title:           a.Title,
		Content:         a.Content,
		Summary:         a.Summary,
		ImageURL:        a.ImageURL,
		Author:          a.Author,
		PublishedAt:     a.PublishedAt.UnixMilli(),
		Category:        a.Category.DisplayName(),
		ReadTimeMinutes: a.ReadTimeMinutes,
		Tags:            tags,
		IsFavorite:      a.IsFavorite,
	}
}

func toStateResponse(s presenter.State) stateResponse {
	articles := make([]articleResponse, len(s.Articles))
	for i, a := range s.Articles {
		articles[i] = toArticleResponse(a)
	}

	var category *string
	if s.SelectedCategory != nil {
		name := s.SelectedCategory.DisplayName()
		category = &name
	}

	return stateResponse{
		Articles:          articles,
		IsLoading:         s.IsLoading,
		IsRefreshing:      s.IsRefreshing,
		IsLoadingMore:     s.IsLoadingMore,
		IsSearching:       s.IsSearching,
		Error:             s.Error,
		ErrorView:         s.ErrorView().String(),
		SelectedCategory:  category,
		SearchQuery:       s.SearchQuery,
		ShowFavoritesOnly: s.ShowFavoritesOnly,
		CurrentPage:       s.CurrentPage,
		HasMorePages:      s.HasMorePages,
		Mode:              string(s.Mode),
	}
}

func toDetailStateResponse(s presenter.DetailState) detailStateResponse {
	var a *articleResponse
	if s.Article != nil {
		resp := toArticleResponse(*s.Article)
		a = &resp
	}
	return detailStateResponse{
		Article:   a,
		IsLoading: s.IsLoading,
		Error:     s.Error,
		ErrorView: s.ErrorView().String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
