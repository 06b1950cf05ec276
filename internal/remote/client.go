// Package remote はニュースAPIバックエンドとの通信を提供する。
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/newsreader/internal/metrics"
	"github.com/hitoshi/newsreader/internal/model"
	"github.com/hitoshi/newsreader/internal/security"
	"golang.org/x/time/rate"
)

// StatusError は2xx以外のHTTPステータスを表す。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// ErrBodyTooLarge はレスポンスボディが上限を超えた場合のエラー。
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Options はClientの設定。
type Options struct {
	BaseURL     string
	RateLimit   float64 // req/sec。0以下の場合は制限しない
	MaxBodySize int64
}

// Client はニュースAPIのクライアント。
// すべての呼び出しはレートリミッターを通過してから送信する。
type Client struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	maxBodySize int64
	sanitizer   security.ContentSanitizerService
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewHTTPClient は接続・TLSハンドシェイク・レスポンスヘッダー・リクエスト全体に
// 同一のタイムアウトを設定したHTTPクライアントを生成する。
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// NewClient はClientを生成する。metricsがnilの場合は記録しない。
func NewClient(httpClient *http.Client, opts Options, sanitizer security.ContentSanitizerService, m metrics.MetricsCollector, logger *slog.Logger) *Client {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if m == nil {
		m = metrics.Nop{}
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = 5 * 1024 * 1024
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     opts.BaseURL,
		limiter:     rate.NewLimiter(limit, 1),
		maxBodySize: maxBody,
		sanitizer:   sanitizer,
		metrics:     m,
		logger:      logger,
	}
}

// GetArticles は記事一覧を取得する。
// 通信失敗・2xx以外はNETWORK_FAILURE、解析失敗はDECODE_FAILUREを返す。
func (c *Client) GetArticles(ctx context.Context, q ArticlesQuery) (*ArticlesResponse, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Category != nil {
		params.Set("category", q.Category.DisplayName())
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}

	var resp ArticlesResponse
	if err := c.getJSON(ctx, "articles", "/api/articles", params, &resp); err != nil {
		return nil, err
	}

	for i := range resp.Articles {
		c.clean(&resp.Articles[i])
	}
	return &resp, nil
}

// GetArticle は記事を1件取得する。
// 存在しない記事（404）もNETWORK_FAILUREとして返し、呼び出し元のキャッシュ参照に委ねる。
func (c *Client) GetArticle(ctx context.Context, id string) (*ArticleDTO, error) {
	if id == "" {
		return nil, model.NewInvalidQueryError("記事IDが空です")
	}

	var dto ArticleDTO
	if err := c.getJSON(ctx, "article", "/api/articles/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	c.clean(&dto)
	return &dto, nil
}

// GetCategories はカテゴリ一覧を取得する。
func (c *Client) GetCategories(ctx context.Context) ([]CategoryDTO, error) {
	var categories []CategoryDTO
	if err := c.getJSON(ctx, "categories", "/api/categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	start := time.Now()
	err := c.doGetJSON(ctx, path, params, out)
	c.metrics.RecordRemoteLatency(time.Since(start))

	if err != nil {
		c.metrics.RecordRemoteFailure(endpoint, model.CodeOf(err))
		c.logger.Warn("リモートAPIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return err
	}
	c.metrics.RecordRemoteSuccess(endpoint)
	return nil
}

func (c *Client) doGetJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewNetworkFailureError("リクエストを送信できませんでした", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.NewNetworkFailureError("リクエストの作成に失敗しました", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Newsreader/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewNetworkFailureError("接続に失敗しました", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 接続を再利用できるようにボディを読み捨てる
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.NewNetworkFailureError(
			fmt.Sprintf("ステータス %d", resp.StatusCode),
			&StatusError{StatusCode: resp.StatusCode},
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return model.NewNetworkFailureError("レスポンスの読み取りに失敗しました", err)
	}
	if int64(len(body)) > c.maxBodySize {
		return model.NewDecodeFailureError(ErrBodyTooLarge)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return model.NewDecodeFailureError(err)
	}
	return nil
}

// clean は記事HTMLのサニタイズと画像URLの検証を行う。
func (c *Client) clean(dto *ArticleDTO) {
	if c.sanitizer != nil {
		dto.Content = c.sanitizer.Sanitize(dto.Content)
		dto.Summary = c.sanitizer.SanitizeText(dto.Summary)
	}
	if dto.ImageURL != nil && !security.IsSafeImageURL(*dto.ImageURL) {
		dto.ImageURL = nil
	}
}
