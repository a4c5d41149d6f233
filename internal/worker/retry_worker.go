package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/service"
)

// StartRetryWorker flushes the recorder's deferred audit writes every interval until ctx
// is cancelled. The returned channel closes when the worker exits.
func StartRetryWorker(ctx context.Context, recorder *service.Recorder, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if recorder.Pending() == 0 {
					continue
				}
				written := recorder.Flush(ctx)
				logger.Debug("audit retry flushed",
					zap.Int("written", written),
					zap.Int("pending", recorder.Pending()))
			}
		}
	}()
	return done
}
