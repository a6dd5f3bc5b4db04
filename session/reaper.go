package session

import (
	"context"
	"log/slog"
	"time"
)

// StartReaper runs b.Reap every interval until ctx is done. Reaping only
// reclaims storage; liveness never depends on it.
func StartReaper(ctx context.Context, b Backend, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := b.Reap(ctx)
				if err != nil {
					logger.Warn("session reap failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Debug("session reap", "removed", n)
				}
			}
		}
	}()
}
