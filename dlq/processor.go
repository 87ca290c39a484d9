package dlq

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shieldops/shield/observe"
)

// Start launches the background processor: a scan loop that retries due
// operations and a cleanup loop that removes expired terminal entries.
// Both run until Stop is called or ctx is cancelled. Tests that need
// deterministic scheduling call ProcessDue and Cleanup directly instead.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.stop != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	q.stop = cancel
	done := make(chan struct{})
	q.done = done

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.scanLoop(gctx) })
	g.Go(func() error { return q.cleanupLoop(gctx) })
	go func() {
		_ = g.Wait()
		close(done)
	}()

	q.logger.Info(ctx, "processor started",
		observe.F("queue", q.name),
		observe.F("scan_interval", q.config.ScanInterval.String()),
	)
	return nil
}

// Stop halts the background processor and waits for in-flight handler
// invocations to finish. Safe to call multiple times.
func (q *Queue) Stop() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.stop == nil {
		return
	}
	q.stop()
	<-q.done
	q.stop = nil
	q.done = nil
}

func (q *Queue) scanLoop(ctx context.Context) error {
	ticker := q.config.Clock.NewTicker(q.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			q.ProcessDue(ctx)
		}
	}
}

func (q *Queue) cleanupLoop(ctx context.Context) error {
	ticker := q.config.Clock.NewTicker(q.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if removed := q.Cleanup(); removed > 0 {
				q.logger.Debug(ctx, "cleanup removed entries",
					observe.F("queue", q.name),
					observe.F("removed", removed),
				)
			}
		}
	}
}
