package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// streamKeepAlive はSSEのコメント行を送る間隔。
const streamKeepAlive = 15 * time.Second

// writeEventStream はstatesの値をServer-Sent Eventsとして送り続ける。
// statesが閉じられるか、doneが閉じられるか、書き込みに失敗すると戻る。
func writeEventStream[S any](w http.ResponseWriter, logger *slog.Logger, event string, states <-chan S, done <-chan struct{}, encode func(S) any) {
	rc := http.NewResponseController(w)
	// 長時間の接続になるため書き込み期限を解除する
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("書き込み期限を解除できませんでした", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				return
			}
			data, err := json.Marshal(encode(s))
			if err != nil {
				logger.Error("状態のエンコードに失敗しました",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-done:
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
