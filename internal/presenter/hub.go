package presenter

import (
	"context"
	"sync"
)

// hub は状態の購読者へ最新の状態を配信する。
// 各購読チャネルはバッファ1で、受信が遅れた購読者には最新の状態だけが残る。
type hub[S any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan S
	closed bool
	done   chan struct{}
}

func newHub[S any]() *hub[S] {
	return &hub[S]{subs: make(map[int]chan S), done: make(chan struct{})}
}

// subscribe は購読を登録し、initialを最初の値として送る。
// ctxのキャンセルまたはclose呼び出しでチャネルを閉じる。
func (h *hub[S]) subscribe(ctx context.Context, initial S) <-chan S {
	ch := make(chan S, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	ch <- initial
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.unsubscribe(id)
		case <-h.done:
		}
	}()
	return ch
}

func (h *hub[S]) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// publish は全購読者へsを送る。未受信の古い値は捨てる。
func (h *hub[S]) publish(s S) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (h *hub[S]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub[S]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// slot は単一実行の処理枠。再発行すると前の処理をキャンセルし、世代を進める。
// 古い世代の結果は破棄される。
type slot struct {
	cancel context.CancelFunc
	gen    uint64
}

func (s *slot) issue(parent context.Context) (context.Context, uint64) {
	s.stop()
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, s.gen
}

func (s *slot) stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

func (s *slot) current(gen uint64) bool {
	return s.cancel != nil && s.gen == gen
}
