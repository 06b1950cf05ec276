package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware(t *testing.T) {
	existing := uuid.NewString()

	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"ヘッダーなしは生成", "", false},
		{"有効なUUIDは引き継ぐ", existing, true},
		{"不正な値は置き換える", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromCtx string
			handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromCtx = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("response id %q is not a UUID", got)
			}
			if fromCtx != got {
				t.Errorf("context id = %q, header id = %q", fromCtx, got)
			}
			if (got == tt.header) != tt.wantSame {
				t.Errorf("id = %q, header = %q, wantSame = %v", got, tt.header, tt.wantSame)
			}
		})
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Errorf("RequestIDFromContext = %q, want empty", got)
	}
}
