package changefeed

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Backlog reports how many changes are still queued.
type Backlog interface {
	PendingChanges(ctx context.Context) (int, error)
}

// WaitDrained polls q until it has been empty for stable consecutive polls.
func WaitDrained(ctx context.Context, q Backlog, interval time.Duration, stable int, logger *log.Logger) error {
	if stable < 1 {
		stable = 1
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	empty := 0
	for {
		n, err := q.PendingChanges(ctx)
		if err != nil {
			return fmt.Errorf("read change backlog: %w", err)
		}
		if n > 0 {
			logger.WithField("pending", n).Info("change queue not drained")
			empty = 0
		} else {
			empty++
			if empty >= stable {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
