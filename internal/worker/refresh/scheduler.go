// Package refresh は記事キャッシュのバックグラウンド更新を提供する。
// 一定間隔でリモートから1ページ目を取得し、お気に入り状態を維持したままキャッシュへ保存する。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/newsreader/internal/model"
)

// Refresher はキャッシュ更新の実行インターフェース。article.Synchronizerが実装する。
type Refresher interface {
	Refresh(ctx context.Context, page, pageSize int, category *model.Category) error
}

// Scheduler は一定間隔でキャッシュ更新を実行する。
// 更新に失敗した場合は次回までの間隔を指数的に延ばし、成功した時点で元の間隔に戻す。
type Scheduler struct {
	refresher Refresher
	logger    *slog.Logger
	interval  time.Duration
	pageSize  int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// pageSizeが0以下の場合はデフォルト値20を使用する。
func NewScheduler(refresher Refresher, logger *slog.Logger, interval time.Duration, pageSize int) *Scheduler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Scheduler{
		refresher: refresher,
		logger:    logger,
		interval:  interval,
		pageSize:  pageSize,
	}
}

// Start はスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("キャッシュ更新スケジューラを開始しました",
		slog.Duration("interval", s.interval),
		slog.Int("page_size", s.pageSize),
	)

	consecutiveErrors := 0
	for {
		if err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			consecutiveErrors++
		} else {
			consecutiveErrors = 0
		}

		delay := CalculateBackoff(s.interval, consecutiveErrors)
		if consecutiveErrors > 0 {
			s.logger.Warn("キャッシュ更新に失敗したため次回の実行を延期します",
				slog.Int("consecutive_errors", consecutiveErrors),
				slog.Duration("next_delay", delay),
			)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("キャッシュ更新スケジューラを停止しました")
			return
		case <-timer.C:
		}
	}

	s.logger.Info("キャッシュ更新スケジューラを停止しました")
}

// RunOnce はキャッシュ更新を1回実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	if err := s.refresher.Refresh(ctx, 1, s.pageSize, nil); err != nil {
		s.logger.Error("キャッシュ更新に失敗しました",
			slog.String("error", err.Error()),
			slog.String("code", model.CodeOf(err)),
		)
		return err
	}

	s.logger.Info("キャッシュ更新が完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
