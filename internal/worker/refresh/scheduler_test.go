package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/newsreader/internal/model"
)

// mockRefresher はRefresherのテスト用モック。
type mockRefresher struct {
	refreshFunc func(ctx context.Context, page, pageSize int, category *model.Category) error
	calls       atomic.Int32

	mu        sync.Mutex
	pageSizes []int
}

func (m *mockRefresher) Refresh(ctx context.Context, page, pageSize int, category *model.Category) error {
	m.calls.Add(1)
	m.mu.Lock()
	m.pageSizes = append(m.pageSizes, pageSize)
	m.mu.Unlock()
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, page, pageSize, category)
	}
	return nil
}

// syncBuffer は並行書き込みに安全なbytes.Buffer。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewScheduler_DefaultPageSize(t *testing.T) {
	s := NewScheduler(&mockRefresher{}, newTestLogger(&syncBuffer{}), time.Minute, 0)
	if s.pageSize != 20 {
		t.Errorf("pageSize = %d, want 20", s.pageSize)
	}
}

func TestRunOnce_RefreshesFirstPage(t *testing.T) {
	var gotPage int
	var gotCategory *model.Category
	refresher := &mockRefresher{
		refreshFunc: func(_ context.Context, page, _ int, category *model.Category) error {
			gotPage = page
			gotCategory = category
			return nil
		},
	}
	var buf syncBuffer
	s := NewScheduler(refresher, newTestLogger(&buf), time.Minute, 10)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if gotPage != 1 || gotCategory != nil {
		t.Errorf("Refresh(page=%d, category=%v), want page 1 without category", gotPage, gotCategory)
	}
	if refresher.pageSizes[0] != 10 {
		t.Errorf("pageSize = %d, want 10", refresher.pageSizes[0])
	}
	if !strings.Contains(buf.String(), "キャッシュ更新が完了しました") {
		t.Errorf("完了ログが出力されていない: %s", buf.String())
	}
}

func TestRunOnce_LogsErrorCode(t *testing.T) {
	refresher := &mockRefresher{
		refreshFunc: func(context.Context, int, int, *model.Category) error {
			return model.NewNetworkFailureError("timeout", errors.New("i/o timeout"))
		},
	}
	var buf syncBuffer
	s := NewScheduler(refresher, newTestLogger(&buf), time.Minute, 20)

	err := s.RunOnce(context.Background())
	if !model.IsNetworkFailure(err) {
		t.Fatalf("RunOnce error = %v, want NETWORK_FAILURE", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("ログがJSONではない: %v", err)
	}
	if entry["code"] != model.ErrCodeNetworkFailure {
		t.Errorf("code = %v, want %s", entry["code"], model.ErrCodeNetworkFailure)
	}
}

func TestStart_RunsImmediatelyAndRepeats(t *testing.T) {
	refresher := &mockRefresher{}
	var buf syncBuffer
	s := NewScheduler(refresher, newTestLogger(&buf), 10*time.Millisecond, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for refresher.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Refresh calls = %d, want >= 3", refresher.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start はctxのキャンセル後に終了するべき")
	}
	if !strings.Contains(buf.String(), "キャッシュ更新スケジューラを停止しました") {
		t.Error("停止ログが出力されていない")
	}
}

func TestStart_BacksOffAfterFailure(t *testing.T) {
	refresher := &mockRefresher{
		refreshFunc: func(context.Context, int, int, *model.Category) error {
			return errors.New("offline")
		},
	}
	var buf syncBuffer
	// 失敗後の待機は 2倍 = 400ms となるため、短時間では2回目は実行されない
	s := NewScheduler(refresher, newTestLogger(&buf), 200*time.Millisecond, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	if got := refresher.calls.Load(); got != 1 {
		t.Errorf("Refresh calls = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "consecutive_errors") {
		t.Errorf("延期ログが出力されていない: %s", buf.String())
	}
}

func TestStart_StopsWhenRefreshCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	refresher := &mockRefresher{
		refreshFunc: func(ctx context.Context, _, _ int, _ *model.Category) error {
			cancel()
			return ctx.Err()
		},
	}
	s := NewScheduler(refresher, newTestLogger(&syncBuffer{}), time.Hour, 20)

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start はRefresh中のキャンセルで終了するべき")
	}
}
