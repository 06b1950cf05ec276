// Package rss はRSS/Atomフィードを記事のリモートソースとして扱う。
// ニュースAPIの代わりに、設定されたフィード群を1つの記事一覧として提供する。
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/newsreader/internal/metrics"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/remote"
	"github.com/hitoshi/newsreader/internal/security"
	"github.com/mmcdole/gofeed"
)

const (
	defaultPageSize = 20
	summaryMaxRunes = 280
	metricsEndpoint = "rss"
)

// Options はSourceの設定。
type Options struct {
	FeedURLs    []string
	Timeout     time.Duration
	MaxBodySize int64
}

// Source は複数のフィードをまとめて記事一覧として返すリモートソース。
// ページングやカテゴリ・検索の絞り込みは取得後にプロセス内で行う。
type Source struct {
	feedURLs    []string
	httpClient  *http.Client
	guard       security.SSRFGuardService
	sanitizer   security.ContentSanitizerService
	maxBodySize int64
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewSource はSourceを生成する。HTTPクライアントはguardから取得する。
func NewSource(opts Options, guard security.SSRFGuardService, sanitizer security.ContentSanitizerService, m metrics.MetricsCollector, logger *slog.Logger) *Source {
	if m == nil {
		m = metrics.Nop{}
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = 5 * 1024 * 1024
	}
	return &Source{
		feedURLs:    opts.FeedURLs,
		httpClient:  guard.NewSafeClient(opts.Timeout),
		guard:       guard,
		sanitizer:   sanitizer,
		maxBodySize: maxBody,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// GetArticles は全フィードを取得して条件で絞り込み、指定ページを返す。
func (s *Source) GetArticles(ctx context.Context, q remote.ArticlesQuery) (*remote.ArticlesResponse, error) {
	all, err := s.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]remote.ArticleDTO, 0, len(all))
	for _, dto := range all {
		if q.Category != nil && model.ParseCategory(dto.Category) != *q.Category {
			continue
		}
		if q.Search != "" && !matches(dto, q.Search) {
			continue
		}
		filtered = append(filtered, dto)
	}

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	start := (page - 1) * limit
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return &remote.ArticlesResponse{
		Articles:      filtered[start:end],
		Page:          page,
		PageSize:      limit,
		TotalPages:    (len(filtered) + limit - 1) / limit,
		TotalArticles: len(filtered),
	}, nil
}

// GetArticle はフィード群から指定IDの記事を探す。
// 見つからない場合はステータス404相当のNETWORK_FAILUREを返す。
func (s *Source) GetArticle(ctx context.Context, id string) (*remote.ArticleDTO, error) {
	all, err := s.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, model.NewNetworkFailureError("記事がフィードに見つかりません",
		&remote.StatusError{StatusCode: http.StatusNotFound})
}

// GetCategories は固定のカテゴリ一覧を返す。フィードはカテゴリ一覧を持たないため通信しない。
func (s *Source) GetCategories(_ context.Context) ([]remote.CategoryDTO, error) {
	categories := model.Categories()
	out := make([]remote.CategoryDTO, len(categories))
	for i, c := range categories {
		out[i] = remote.CategoryDTO{
			ID:          strconv.Itoa(i + 1),
			Name:        c.Name(),
			DisplayName: c.DisplayName(),
		}
	}
	return out, nil
}

type feedResult struct {
	articles []remote.ArticleDTO
	err      error
}

// fetchAll は全フィードを並行して取得し、公開日時の降順に並べる。
// 一部のフィードが失敗しても他のフィードの記事は返す。全フィードが失敗した場合は最初のエラーを返す。
func (s *Source) fetchAll(ctx context.Context) ([]remote.ArticleDTO, error) {
	results := make([]feedResult, len(s.feedURLs))

	var wg sync.WaitGroup
	for i, feedURL := range s.feedURLs {
		wg.Add(1)
		go func(i int, feedURL string) {
			defer wg.Done()
			articles, err := s.fetchFeed(ctx, feedURL)
			results[i] = feedResult{articles: articles, err: err}
		}(i, feedURL)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var all []remote.ArticleDTO
	var firstErr error
	succeeded := 0

	for i, r := range results {
		if r.err != nil {
			s.logger.Warn("フィードの取得に失敗しました",
				slog.String("feed_url", s.feedURLs[i]),
				slog.String("error", r.err.Error()),
			)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		succeeded++
		for _, dto := range r.articles {
			if seen[dto.ID] {
				continue
			}
			seen[dto.ID] = true
			all = append(all, dto)
		}
	}

	if succeeded == 0 && firstErr != nil {
		return nil, firstErr
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].PublishedAt != all[j].PublishedAt {
			return all[i].PublishedAt > all[j].PublishedAt
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

func (s *Source) fetchFeed(ctx context.Context, feedURL string) ([]remote.ArticleDTO, error) {
	start := time.Now()
	articles, err := s.doFetchFeed(ctx, feedURL)
	s.metrics.RecordRemoteLatency(time.Since(start))

	if err != nil {
		s.metrics.RecordRemoteFailure(metricsEndpoint, model.CodeOf(err))
		return nil, err
	}
	s.metrics.RecordRemoteSuccess(metricsEndpoint)
	return articles, nil
}

func (s *Source) doFetchFeed(ctx context.Context, feedURL string) ([]remote.ArticleDTO, error) {
	if err := s.guard.ValidateURL(feedURL); err != nil {
		return nil, model.NewNetworkFailureError("フィードURLが不正です", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, model.NewNetworkFailureError("リクエストの作成に失敗しました", err)
	}
	req.Header.Set("User-Agent", "Newsreader/1.0 RSS Reader")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkFailureError("フィードへの接続に失敗しました", err)
	}
	defer resp.Body.Close()

	s.metrics.RecordHTTPStatus(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.NewNetworkFailureError(
			fmt.Sprintf("ステータス %d", resp.StatusCode),
			&remote.StatusError{StatusCode: resp.StatusCode},
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize+1))
	if err != nil {
		return nil, model.NewNetworkFailureError("レスポンスの読み取りに失敗しました", err)
	}
	// 切り詰めたフィードを完全なものとして扱わない
	if int64(len(body)) > s.maxBodySize {
		return nil, model.NewDecodeFailureError(remote.ErrBodyTooLarge)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, model.NewDecodeFailureError(err)
	}

	articles := make([]remote.ArticleDTO, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		articles = append(articles, s.convertItem(feedURL, item))
	}
	return articles, nil
}

// convertItem はフィードの記事をリモートAPIと同じ記事表現に変換する。
func (s *Source) convertItem(feedURL string, item *gofeed.Item) remote.ArticleDTO {
	content := item.Content
	if content == "" {
		content = item.Description
	}
	description := item.Description
	if description == "" {
		description = item.Content
	}
	plain := PlainText(content)

	dto := remote.ArticleDTO{
		ID:              ItemID(feedURL, item),
		Title:           strings.TrimSpace(PlainText(item.Title)),
		Content:         content,
		Summary:         Truncate(PlainText(description), summaryMaxRunes),
		ImageURL:        imageURL(item),
		Author:          authorName(item),
		PublishedAt:     s.publishedAt(item).UnixMilli(),
		Category:        categoryOf(item.Categories).DisplayName(),
		ReadTimeMinutes: EstimateReadTime(plain),
		Tags:            tagsOf(item.Categories),
	}

	if s.sanitizer != nil {
		dto.Content = s.sanitizer.Sanitize(dto.Content)
	}
	return dto
}

// ItemID はフィード記事の安定したIDを返す。
// GUID、リンク、タイトルと公開日時の順に識別子を選び、SHA-256の先頭16バイトを使う。
func ItemID(feedURL string, item *gofeed.Item) string {
	key := item.GUID
	if key == "" {
		key = item.Link
	}
	if key == "" {
		key = feedURL + "|" + item.Title + "|" + item.Published
	}
	sum := sha256.Sum256([]byte(key))
	return "rss-" + hex.EncodeToString(sum[:16])
}

func (s *Source) publishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return s.now()
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

func imageURL(item *gofeed.Item) *string {
	if item.Image != nil && security.IsSafeImageURL(item.Image.URL) {
		u := item.Image.URL
		return &u
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && security.IsSafeImageURL(enc.URL) {
			u := enc.URL
			return &u
		}
	}
	return nil
}

// categoryOf はフィード記事のカテゴリ群から最初に一致したカテゴリを返す。
func categoryOf(categories []string) model.Category {
	for _, c := range categories {
		if category, ok := model.LookupCategory(c); ok {
			return category
		}
	}
	return model.CategoryTechnology
}

// tagsOf はカテゴリ群をタグに変換する。保存形式の区切り文字と衝突するカンマは空白に置き換える。
func tagsOf(categories []string) []string {
	tags := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(strings.ReplaceAll(c, ",", " "))
		if c != "" {
			tags = append(tags, c)
		}
	}
	return tags
}

func matches(dto remote.ArticleDTO, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(dto.Title), q) ||
		strings.Contains(strings.ToLower(dto.Summary), q) ||
		strings.Contains(strings.ToLower(dto.Content), q) ||
		strings.Contains(strings.ToLower(dto.Author), q)
}
