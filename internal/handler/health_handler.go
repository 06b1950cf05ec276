package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker はキャッシュの疎通確認。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache"`
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。checkerがnilの場合はメモリキャッシュとして扱う。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Cache: "memory"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := checker.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Cache: "error"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Cache: "ok"})
	}
}
