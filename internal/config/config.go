package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RemoteKind はリモートデータソースの種別。
type RemoteKind string

const (
	// RemoteKindAPI はJSON APIバックエンドを使用する。
	RemoteKindAPI RemoteKind = "api"
	// RemoteKindRSS はRSS/Atomフィードを直接読み込む。
	RemoteKindRSS RemoteKind = "rss"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote
	RemoteKind        RemoteKind
	APIBaseURL        string
	RSSFeedURLs       []string
	RemoteTimeout     time.Duration
	RemoteRateLimit   float64
	RemoteMaxBodySize int64
	AllowPrivateFeeds bool

	// Cache
	CacheDatabaseURL string
	CacheRetention   time.Duration // 0以下でクリーンアップ無効
	RefreshInterval  time.Duration // 0以下でバックグラウンド更新無効

	// List
	PageSize int

	// Server
	ServerPort        string
	CORSAllowedOrigin string // カンマ区切り、"*" は全許可
	EventRateLimit    float64
	EventRateBurst    int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.RemoteKind = RemoteKind(strings.ToLower(getEnvString("REMOTE_KIND", string(RemoteKindAPI))))

	// Required fields
	var missing []string

	switch cfg.RemoteKind {
	case RemoteKindAPI:
		cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
		if cfg.APIBaseURL == "" {
			missing = append(missing, "API_BASE_URL")
		}
	case RemoteKindRSS:
		cfg.RSSFeedURLs = splitList(os.Getenv("RSS_FEED_URLS"))
		if len(cfg.RSSFeedURLs) == 0 {
			missing = append(missing, "RSS_FEED_URLS")
		}
	default:
		return nil, fmt.Errorf("unsupported REMOTE_KIND: %q (allowed: api, rss)", cfg.RemoteKind)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 30*time.Second)
	cfg.RemoteRateLimit = getEnvFloat("REMOTE_RATE_LIMIT", 5)
	cfg.RemoteMaxBodySize = getEnvInt64("REMOTE_MAX_BODY_SIZE", 5242880)
	cfg.AllowPrivateFeeds = getEnvBool("ALLOW_PRIVATE_FEEDS", false)
	cfg.CacheDatabaseURL = getEnvString("CACHE_DATABASE_URL", "sqlite3://newsreader.db")
	cfg.CacheRetention = getEnvDuration("CACHE_RETENTION", 720*time.Hour)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 0)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 20)
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.EventRateLimit = getEnvFloat("EVENT_RATE_LIMIT", 10)
	cfg.EventRateBurst = getEnvInt("EVENT_RATE_BURST", 20)
	if cfg.EventRateBurst <= 0 {
		cfg.EventRateBurst = 20
	}
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
