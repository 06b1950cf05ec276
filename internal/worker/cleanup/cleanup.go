// Package cleanup はキャッシュ記事の自動削除ジョブを提供する。
// 保持期間を超過した記事を定期的に削除する。お気に入り登録された記事は削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultRetention はデフォルトの保持期間（30日）。
const defaultRetention = 30 * 24 * time.Hour

// StaleDeleter は保持期間を超過した記事の削除インターフェース。cache.Storeが実装する。
type StaleDeleter interface {
	DeleteStale(ctx context.Context, cachedBefore time.Time) (int, error)
}

// CleanupJob は保持期間を超過したキャッシュ記事の自動削除ジョブ。
// 削除はキャッシュの購読者へ通知されるため、表示中のライブ一覧にも反映される。
type CleanupJob struct {
	cache     StaleDeleter
	logger    *slog.Logger
	Retention time.Duration // キャッシュの保持期間（デフォルト: 30日）
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合はデフォルトの30日を使用する。
func NewCleanupJob(cache StaleDeleter, logger *slog.Logger, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &CleanupJob{
		cache:     cache,
		logger:    logger,
		Retention: retention,
		now:       time.Now,
	}
}

// Run は保持期間を超過した記事を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.Retention)

	deleted, err := j.cache.DeleteStale(ctx, cutoff)
	if err != nil {
		j.logger.Error("キャッシュクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("キャッシュクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("キャッシュクリーンアップジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// Start は起動直後に1回実行し、以降はinterval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。失敗は記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
