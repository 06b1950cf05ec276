package cache

import (
	"fmt"

	"github.com/hitoshi/newsreader/internal/model"
)

// QueryKind はライブクエリの種類。
type QueryKind int

const (
	QueryAll QueryKind = iota
	QueryCategory
	QuerySearch
	QueryFavorites
	QueryByID
)

// Query はライブクエリの条件を表す。
type Query struct {
	Kind     QueryKind
	Category model.Category
	Text     string
	ID       string
}

// All は全記事を対象とするクエリを返す。
func All() Query { return Query{Kind: QueryAll} }

// ByCategory は指定カテゴリの記事を対象とするクエリを返す。
func ByCategory(c model.Category) Query { return Query{Kind: QueryCategory, Category: c} }

// Search は部分一致検索のクエリを返す。
func Search(text string) Query { return Query{Kind: QuerySearch, Text: text} }

// Favorites はお気に入り記事を対象とするクエリを返す。
func Favorites() Query { return Query{Kind: QueryFavorites} }

// ByID は1件の記事を対象とするクエリを返す。
func ByID(id string) Query { return Query{Kind: QueryByID, ID: id} }

// String はログ出力用の表現を返す。
func (q Query) String() string {
	switch q.Kind {
	case QueryAll:
		return "all"
	case QueryCategory:
		return fmt.Sprintf("category:%s", q.Category)
	case QuerySearch:
		return fmt.Sprintf("search:%s", q.Text)
	case QueryFavorites:
		return "favorites"
	case QueryByID:
		return fmt.Sprintf("id:%s", q.ID)
	default:
		return "unknown"
	}
}
