package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Service struct {
	mu sync.Mutex

	log *slog.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*jobDef

	queue  chan task
	stopCh chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	runner Runner

	// one-time timers (runtime; defs are the persistent definitions)
	tmu      sync.Mutex
	timers   map[string]*time.Timer
	timerVer map[string]uint64

	now func() time.Time
}

func New(cfg Config, log *slog.Logger, runner Runner) *Service {
	return &Service{
		cfg: cfg,
		log: log,
		// Triggers use the 5 standard cron fields.
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defs:     map[string]*jobDef{},
		timers:   map[string]*time.Timer{},
		timerVer: map[string]uint64{},
		runner:   runner,
		now:      time.Now,
	}
}

// Start idempotently activates trigger processing: it arms all held
// definitions and spins up the worker pool.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := s.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	// Fresh queue per run so stale tasks do not survive a stop/start toggle.
	s.queue = make(chan task, queueSize)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for _, d := range s.defs {
		if !d.oneTime() {
			if err := s.addCronLocked(d); err != nil {
				s.log.Error("trigger re-register failed", slog.String("job", d.key), slog.String("spec", d.spec), slog.Any("err", err))
			}
		}
	}

	// Local captures prevent races if fields are swapped during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatcher worker", slog.Int("worker", idx), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.rebuildOnceTimersLocked()
	s.log.Info("dispatcher started", slog.Int("workers", workers), slog.String("tz", loc.String()), slog.Int("jobs", len(s.defs)))
}

// Stop idempotently cancels all pending triggers and halts the worker
// pool. Definitions are kept so the service can be started again.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	start := time.Now()
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	// prevent new cron enqueues quickly
	s.c = nil
	s.stopCh = nil
	s.runCancel = nil
	s.queue = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// stop runtime one-time timers (definitions survive for the next Start)
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("dispatcher stopped", slog.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out waiting for workers")
	}
}

// Apply updates the dispatcher settings. DefaultTimeout takes effect
// on the next fire of every job, including jobs already registered;
// Workers, QueueSize, and Timezone take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", slog.String("tz", tz), slog.Any("err", err))
		return time.Local
	}
	return loc
}

// resolveTimeout picks the per-task timeout when set, else the current
// DefaultTimeout. Called from workers; must not be called with s.mu
// held.
func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.DefaultTimeout
}
