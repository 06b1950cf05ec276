// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リモートクライアントと同期処理から利用する。
type MetricsCollector interface {
	RecordRemoteSuccess(endpoint string)
	RecordRemoteFailure(endpoint string, code string)
	RecordRemoteLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordCacheFallback(operation string)
	RecordArticlesCached(count int)
	RecordFavoriteToggle()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	remoteSuccess  *prometheus.CounterVec
	remoteFailure  *prometheus.CounterVec
	remoteLatency  prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	cacheFallback  *prometheus.CounterVec
	articlesCached prometheus.Counter
	favoriteToggle prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsreader_remote_success_total",
			Help: "リモート呼び出し成功の合計数",
		}, []string{"endpoint"}),
		remoteFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsreader_remote_failure_total",
			Help: "リモート呼び出し失敗の合計数（エラーコード別）",
		}, []string{"endpoint", "code"}),
		remoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsreader_remote_latency_seconds",
			Help:    "リモート呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsreader_http_status_total",
			Help: "リモートが返したHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cacheFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsreader_cache_fallback_total",
			Help: "通信失敗時にキャッシュへフォールバックした回数",
		}, []string{"operation"}),
		articlesCached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsreader_articles_cached_total",
			Help: "キャッシュに書き込まれた記事の合計数",
		}),
		favoriteToggle: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsreader_favorite_toggle_total",
			Help: "お気に入り切り替えの合計数",
		}),
	}

	reg.MustRegister(
		c.remoteSuccess,
		c.remoteFailure,
		c.remoteLatency,
		c.httpStatus,
		c.cacheFallback,
		c.articlesCached,
		c.favoriteToggle,
	)

	return c
}

// RecordRemoteSuccess はリモート呼び出しの成功を記録する。
func (c *Collector) RecordRemoteSuccess(endpoint string) {
	c.remoteSuccess.WithLabelValues(endpoint).Inc()
}

// RecordRemoteFailure はリモート呼び出しの失敗を記録する。
func (c *Collector) RecordRemoteFailure(endpoint string, code string) {
	c.remoteFailure.WithLabelValues(endpoint, code).Inc()
}

// RecordRemoteLatency はリモート呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(duration time.Duration) {
	c.remoteLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCacheFallback はキャッシュへのフォールバックを記録する。
func (c *Collector) RecordCacheFallback(operation string) {
	c.cacheFallback.WithLabelValues(operation).Inc()
}

// RecordArticlesCached はキャッシュに書き込んだ記事数を記録する。
func (c *Collector) RecordArticlesCached(count int) {
	c.articlesCached.Add(float64(count))
}

// RecordFavoriteToggle はお気に入り切り替えを記録する。
func (c *Collector) RecordFavoriteToggle() {
	c.favoriteToggle.Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordRemoteSuccess(string)         {}
func (Nop) RecordRemoteFailure(string, string) {}
func (Nop) RecordRemoteLatency(time.Duration)  {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordCacheFallback(string)         {}
func (Nop) RecordArticlesCached(int)           {}
func (Nop) RecordFavoriteToggle()              {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
