package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/newsreader/internal/model"
)

// articleColumns はSELECT/INSERTで使用するカラム一覧。
const articleColumns = `id, title, content, summary, image_url, author, published_at,
	category, read_time_minutes, tags, is_favorite, cached_at`

const articleOrder = ` ORDER BY published_at DESC, id ASC`

// upsertArticleSQL は単一記事のUPSERT。お気に入り状態も上書きする。
const upsertArticleSQL = `INSERT INTO articles (` + articleColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		summary = EXCLUDED.summary,
		image_url = EXCLUDED.image_url,
		author = EXCLUDED.author,
		published_at = EXCLUDED.published_at,
		category = EXCLUDED.category,
		read_time_minutes = EXCLUDED.read_time_minutes,
		tags = EXCLUDED.tags,
		is_favorite = EXCLUDED.is_favorite,
		cached_at = EXCLUDED.cached_at`

// mergeArticleSQL はバッチ用のUPSERT。既存行のお気に入り状態は維持する。
const mergeArticleSQL = `INSERT INTO articles (` + articleColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		summary = EXCLUDED.summary,
		image_url = EXCLUDED.image_url,
		author = EXCLUDED.author,
		published_at = EXCLUDED.published_at,
		category = EXCLUDED.category,
		read_time_minutes = EXCLUDED.read_time_minutes,
		tags = EXCLUDED.tags,
		cached_at = EXCLUDED.cached_at`

// SQLArticleRepo はSQLite/PostgreSQLを使用した記事キャッシュリポジトリ。
// クエリは両方言で共通の構文のみを使用する。
type SQLArticleRepo struct {
	db *sql.DB
}

var _ ArticleRepository = (*SQLArticleRepo)(nil)

// NewSQLArticleRepo はSQLArticleRepoを生成する。
func NewSQLArticleRepo(db *sql.DB) *SQLArticleRepo {
	return &SQLArticleRepo{db: db}
}

// FindAll はキャッシュ済みの全記事を取得する。
func (r *SQLArticleRepo) FindAll(ctx context.Context) ([]model.ArticleEntity, error) {
	return r.queryArticles(ctx, "記事一覧の取得",
		`SELECT `+articleColumns+` FROM articles`+articleOrder)
}

// FindByCategory は指定カテゴリの記事を取得する。
func (r *SQLArticleRepo) FindByCategory(ctx context.Context, category model.Category) ([]model.ArticleEntity, error) {
	return r.queryArticles(ctx, "カテゴリ別記事の取得",
		`SELECT `+articleColumns+` FROM articles WHERE category = $1`+articleOrder,
		category.DisplayName(),
	)
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *SQLArticleRepo) FindByID(ctx context.Context, id string) (*model.ArticleEntity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)

	entity, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return &entity, nil
}

// Search はタイトル・要約・本文・著者のいずれかに部分一致する記事を取得する。
// LIKEのワイルドカード文字はエスケープし、リテラルとして照合する。
func (r *SQLArticleRepo) Search(ctx context.Context, query string) ([]model.ArticleEntity, error) {
	pattern := "%" + escapeLike(query) + "%"
	return r.queryArticles(ctx, "記事の検索",
		`SELECT `+articleColumns+` FROM articles
		 WHERE LOWER(title) LIKE LOWER($1) ESCAPE '\'
		    OR LOWER(summary) LIKE LOWER($1) ESCAPE '\'
		    OR LOWER(content) LIKE LOWER($1) ESCAPE '\'
		    OR LOWER(author) LIKE LOWER($1) ESCAPE '\'`+articleOrder,
		pattern,
	)
}

// FindFavorites はお気に入り登録された記事を取得する。
func (r *SQLArticleRepo) FindFavorites(ctx context.Context) ([]model.ArticleEntity, error) {
	return r.queryArticles(ctx, "お気に入り記事の取得",
		`SELECT `+articleColumns+` FROM articles WHERE is_favorite = $1`+articleOrder,
		true,
	)
}

// Count はキャッシュ済みの記事数を返す。
func (r *SQLArticleRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("記事数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Upsert は記事を1件挿入または置換する。
func (r *SQLArticleRepo) Upsert(ctx context.Context, entity model.ArticleEntity) error {
	if _, err := r.db.ExecContext(ctx, upsertArticleSQL, articleArgs(entity)...); err != nil {
		return fmt.Errorf("記事の保存に失敗しました: %w", err)
	}
	return nil
}

// UpsertBatch は複数の記事を同一トランザクションで挿入または更新する。
func (r *SQLArticleRepo) UpsertBatch(ctx context.Context, entities []model.ArticleEntity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertArticles(ctx, tx, mergeArticleSQL, entities, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceAll は全記事を削除してから引き渡された記事を挿入する。
func (r *SQLArticleRepo) ReplaceAll(ctx context.Context, entities []model.ArticleEntity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	favorites, err := favoriteIDs(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM articles`); err != nil {
		return fmt.Errorf("記事の全削除に失敗しました: %w", err)
	}

	if err := insertArticles(ctx, tx, upsertArticleSQL, entities, favorites); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateFavorite は記事のお気に入り状態を更新する。
func (r *SQLArticleRepo) UpdateFavorite(ctx context.Context, id string, isFavorite bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET is_favorite = $1 WHERE id = $2`,
		isFavorite, id,
	)
	if err != nil {
		return false, fmt.Errorf("お気に入り状態の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// DeleteByID は指定IDの記事を削除する。
func (r *SQLArticleRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteAll は全記事を削除する。
func (r *SQLArticleRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM articles`); err != nil {
		return fmt.Errorf("記事の全削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteStale は保持期間を超過したお気に入り以外の記事を削除する。
func (r *SQLArticleRepo) DeleteStale(ctx context.Context, cachedBefore int64) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE cached_at < $1 AND is_favorite = $2`,
		cachedBefore, false,
	)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return int(deleted), nil
}

func (r *SQLArticleRepo) queryArticles(ctx context.Context, op, query string, args ...any) ([]model.ArticleEntity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sに失敗しました: %w", op, err)
	}
	defer rows.Close()

	entities := []model.ArticleEntity{}
	for rows.Next() {
		entity, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("%sのスキャンに失敗しました: %w", op, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sのイテレーションに失敗しました: %w", op, err)
	}
	return entities, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(s rowScanner) (model.ArticleEntity, error) {
	var e model.ArticleEntity
	var imageURL sql.NullString
	err := s.Scan(
		&e.ID, &e.Title, &e.Content, &e.Summary, &imageURL, &e.Author, &e.PublishedAt,
		&e.Category, &e.ReadTimeMinutes, &e.Tags, &e.IsFavorite, &e.CachedAt,
	)
	if err != nil {
		return model.ArticleEntity{}, err
	}
	if imageURL.Valid {
		v := imageURL.String
		e.ImageURL = &v
	}
	return e, nil
}

func articleArgs(e model.ArticleEntity) []any {
	var imageURL sql.NullString
	if e.ImageURL != nil {
		imageURL = sql.NullString{String: *e.ImageURL, Valid: true}
	}
	return []any{
		e.ID, e.Title, e.Content, e.Summary, imageURL, e.Author, e.PublishedAt,
		e.Category, e.ReadTimeMinutes, e.Tags, e.IsFavorite, e.CachedAt,
	}
}

// insertArticles はトランザクション内で記事を順に書き込む。
// favoritesに含まれるIDはお気に入り状態をtrueにする。
func insertArticles(ctx context.Context, tx *sql.Tx, query string, entities []model.ArticleEntity, favorites map[string]bool) error {
	if len(entities) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if favorites[e.ID] {
			e.IsFavorite = true
		}
		if _, err := stmt.ExecContext(ctx, articleArgs(e)...); err != nil {
			return fmt.Errorf("記事の保存に失敗しました (id=%s): %w", e.ID, err)
		}
	}
	return nil
}

func favoriteIDs(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM articles WHERE is_favorite = $1`, true)
	if err != nil {
		return nil, fmt.Errorf("お気に入り記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("お気に入り記事のスキャンに失敗しました: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike はLIKEパターン中のワイルドカードをエスケープする。
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
