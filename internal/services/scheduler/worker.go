package scheduler

import (
	"context"
	"log/slog"
	"time"
)

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("dispatcher not running; dropping fire", slog.String("job", t.key))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("dispatcher queue full; dropping fire", slog.String("job", t.key), slog.Int("queue_len", len(q)), slog.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	// Serialize fires per job id: if the previous run is still going,
	// skip this fire instead of stacking executions.
	if t.state != nil {
		t.state.mu.Lock()
		running := t.state.running
		if !running {
			t.state.running = true
		}
		t.state.mu.Unlock()
		if running {
			s.log.Debug("fire skipped (previous run still executing)", slog.String("job", t.key))
			return
		}
		defer func() {
			t.state.mu.Lock()
			t.state.running = false
			t.state.mu.Unlock()
		}()
	}

	start := time.Now()
	runCtx := ctx
	var cancel func()
	// Resolve the timeout at fire time so a reloaded DefaultTimeout
	// covers jobs registered before the reload.
	if timeout := s.resolveTimeout(t.timeout); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.runner.Run(runCtx, t.jobID)
	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job run failed", slog.String("job", t.key), slog.Any("err", err), slog.Duration("dur", dur))
		return
	}
	s.log.Debug("job run completed", slog.String("job", t.key), slog.Duration("dur", dur))
}
