package utils

import (
	"log/slog"
	"time"

	"github.com/terrastream/mysql-cdc/lib"
)

func WithJitteredRetries[T any](baseMs, maxMs, maxAttempts int, f func(attempt int) (T, error)) (T, error) {
	maxAttempts = max(maxAttempts, 1)
	var result T
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			var sleepDuration time.Duration
			if baseMs > 0 && maxMs > 0 {
				sleepDuration = time.Duration(lib.JitterMs(baseMs, maxMs, attempt)) * time.Millisecond
			}
			slog.Info("An error occurred, retrying after delay...",
				slog.Duration("sleep", sleepDuration),
				slog.Any("attemptsLeft", maxAttempts-attempt),
				slog.Any("err", err),
			)
			time.Sleep(sleepDuration)
		}
		result, err = f(attempt)
		if err == nil {
			return result, nil
		}
	}
	return result, err
}
