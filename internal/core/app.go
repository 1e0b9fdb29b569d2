package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"devsend/internal/config"
	"devsend/internal/schedule"
	"devsend/internal/services/logging"
	"devsend/internal/services/mailer"
	"devsend/internal/services/scheduler"
	"devsend/internal/services/sendjob"
	"devsend/internal/storage"
	logx "devsend/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	logs *logging.Service
	log  *slog.Logger

	xlogs *logx.Service
	xlog  logx.Logger

	store storage.Store
	mail  *mailer.Service
	exec  *sendjob.Executor
	sched *scheduler.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(slog.String("comp", "app"))

	xlogSvc, xlog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if cfg.Storage == nil {
		return nil, fmt.Errorf("config: storage section is required")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, xlog.With(logx.String("svc", "storage")))
	if err != nil {
		return nil, err
	}

	mail := mailer.New(mailerConfig(cfg.SMTP), store, smtpSenderFor(cfg.SMTP), log.With(slog.String("comp", "mailer")))

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		// Validated by config.Manager; LoadLocation cannot fail here.
		loc, _ = time.LoadLocation(tz)
	}
	exec := sendjob.NewExecutor(store, mail, loc, log.With(slog.String("comp", "executor")))

	schedCfg, err := schedulerConfig(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(slog.String("comp", "dispatcher")), exec)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		xlogs:   xlogSvc,
		xlog:    xlog,
		store:   store,
		mail:    mail,
		exec:    exec,
		sched:   sched,
	}, nil
}

func mailerConfig(s config.SMTPConfig) mailer.Config {
	port := ""
	if s.Port > 0 {
		port = strconv.Itoa(s.Port)
	}
	return mailer.Config{
		Host:       s.Host,
		Port:       port,
		Username:   s.Username,
		FromEmail:  s.FromEmail,
		FromName:   s.FromName,
		MaxRetries: s.MaxRetries,
		RatePerSec: s.RatePerSec,
	}
}

func smtpSenderFor(s config.SMTPConfig) mailer.Sender {
	port := "587"
	if s.Port > 0 {
		port = strconv.Itoa(s.Port)
	}
	return mailer.NewSMTPSender(s.Host, port, s.Username)
}

func schedulerConfig(s config.SchedulerConfig) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.default_timeout", s.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Workers:        s.Workers,
		QueueSize:      s.QueueSize,
		DefaultTimeout: timeout,
		Timezone:       s.Timezone,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.xlog.With(logx.String("svc", "config")))

	a.sched.Start(a.sup.Context())

	n, err := sendjob.LoadAll(a.sup.Context(), a.store, a.sched, a.log.With(slog.String("comp", "lifecycle")))
	if err != nil {
		return fmt.Errorf("load scheduled jobs: %w", err)
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", slog.Int("jobs", n))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.xlog.Debug("config reload received, but no effective changes detected")
		return
	}
	a.xlog.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(logging.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})
	a.xlogs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	if schedCfg, err := schedulerConfig(newCfg.Scheduler); err == nil {
		a.sched.Apply(schedCfg)
	} else {
		a.log.Warn("scheduler config not applied", slog.Any("err", err))
	}

	var sender mailer.Sender
	if oldCfg == nil || oldCfg.SMTP.Host != newCfg.SMTP.Host ||
		oldCfg.SMTP.Port != newCfg.SMTP.Port ||
		oldCfg.SMTP.Username != newCfg.SMTP.Username {
		sender = smtpSenderFor(newCfg.SMTP)
	}
	a.mail.Apply(mailerConfig(newCfg.SMTP), sender)

	// Storage changes need a restart; flag so the operator knows.
	if oldCfg != nil && !storageEqual(oldCfg.Storage, newCfg.Storage) {
		a.log.Warn("storage config changed; restart required to take effect")
	}
}

func storageEqual(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.sched.Stop(stopCtx)
	cancel()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", slog.Any("err", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := a.sup.Wait(waitCtx)
	cancel()

	a.log.Info("stopped")
	a.logs.Close()
	_ = a.xlogs.Close()
	return err
}

// ScheduleJob validates, persists, and registers a job in one step so
// the store and the dispatcher cannot drift. A registration error is
// returned to the caller; the row stays persisted and active but holds
// no trigger until it is re-scheduled.
func (a *App) ScheduleJob(ctx context.Context, job *storage.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("schedule: nil job")
	}
	if job.IsActive && job.NextRun.IsZero() {
		sp := job.Spec()
		if sp.Kind == schedule.Cron {
			// A bad expression is caught by Register below; the row
			// still persists so the caller can repair and re-schedule.
			if next, err := schedule.NextCron(sp.Expr, time.Now(), time.Local); err == nil {
				job.NextRun = next
			}
		} else {
			job.NextRun = job.ScheduleTime
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := a.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	if err := a.sched.Register(job); err != nil {
		return fmt.Errorf("register job %d: %w", job.ID, err)
	}
	a.log.Info("job scheduled",
		slog.Int64("job", job.ID),
		slog.String("type", job.ScheduleType.String()),
		slog.Time("next_run", job.NextRun))
	return nil
}

// RemoveJob deregisters the trigger first, then deletes the row, so a
// fire cannot race the delete into resurrecting bookkeeping.
func (a *App) RemoveJob(ctx context.Context, jobID int64) error {
	a.sched.Deregister(jobID)
	if err := a.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %d: %w", jobID, err)
	}
	a.log.Info("job removed", slog.Int64("job", jobID))
	return nil
}

// PauseJob deactivates a job and removes its trigger without deleting
// history. ResumeJob is ScheduleJob with the stored record.
func (a *App) PauseJob(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("pause job %d: not found", jobID)
	}
	a.sched.Deregister(jobID)
	job.IsActive = false
	if err := a.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("pause job %d: %w", jobID, err)
	}
	return nil
}

// ResumeJob reactivates a paused job and re-registers its trigger.
func (a *App) ResumeJob(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("resume job %d: not found", jobID)
	}
	job.IsActive = true
	return a.ScheduleJob(ctx, job)
}

// Store exposes the persistence layer for embedders (management
// surfaces, tests).
func (a *App) Store() storage.Store { return a.store }
