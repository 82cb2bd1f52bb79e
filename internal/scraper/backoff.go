package scraper

import (
	"context"
	"time"

	"github.com/reviewinsight/backend/internal/logger"
	"go.uber.org/zap"
)

// withRetry runs fn up to attempts times with exponential backoff between
// failures. The last error is returned when every attempt fails.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, op string, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		logger.Log.Warn("Retrying after failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
	}

	return err
}
