package store

import (
	"context"
	"log/slog"
	"time"
)

type Purger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// RunRetention purges rows older than keep right away and then every
// interval, until ctx is done. keep <= 0 disables it.
func RunRetention(ctx context.Context, p Purger, keep, every time.Duration) {
	if keep <= 0 {
		return
	}
	if every <= 0 {
		every = time.Hour
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := p.PurgeOlderThan(pctx, keep)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Warn("history purge failed", "err", err)
		case n > 0:
			slog.Info("history purged", "rows", n, "older_than", keep)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
