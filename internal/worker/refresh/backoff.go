package refresh

import "time"

// maxBackoff は連続失敗時の更新間隔の上限（12時間）。
const maxBackoff = 12 * time.Hour

// CalculateBackoff は連続失敗回数に基づいて次回の更新までの待機時間を計算する。
// 0回なら通常の間隔、以降は2倍ずつ増加し、12時間（通常の間隔がそれより長い場合は通常の間隔）で頭打ちになる。
func CalculateBackoff(interval time.Duration, consecutiveErrors int) time.Duration {
	limit := maxBackoff
	if interval > limit {
		limit = interval
	}

	delay := interval
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > limit {
			return limit
		}
	}
	return delay
}
