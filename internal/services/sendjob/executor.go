package sendjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"devsend/internal/schedule"
	"devsend/internal/services/mailer"
	"devsend/internal/storage"
)

// Store is the slice of the persistence API the executor needs.
type Store interface {
	GetJob(ctx context.Context, id int64) (*storage.ScheduledJob, error)
	GetTemplate(ctx context.Context, id int64) (*storage.EmailTemplate, error)
	UpdateJobRun(ctx context.Context, id int64, lastRun, nextRun time.Time, active bool) error
}

// BulkSender is the mailer surface the executor consumes.
type BulkSender interface {
	SendBulk(ctx context.Context, req mailer.BulkRequest) mailer.BulkResult
}

type Executor struct {
	store  Store
	mailer BulkSender
	log    *slog.Logger
	loc    *time.Location

	now func() time.Time
}

// NewExecutor builds an executor. loc is the timezone used for
// cron-derived next runs; nil means the host's local zone.
func NewExecutor(store Store, sender BulkSender, loc *time.Location, log *slog.Logger) *Executor {
	if loc == nil {
		loc = time.Local
	}
	return &Executor{
		store:  store,
		mailer: sender,
		log:    log,
		loc:    loc,
		now:    time.Now,
	}
}

// Run executes one fire of the job. It is invoked by the dispatcher's
// worker pool; a returned error is logged there and goes no further.
//
// Bookkeeping is written only after the send has been attempted, so a
// failed bookkeeping write can cause a duplicate send on the next fire
// of a recurring job — degraded but accepted; the log line carries the
// attempted values for manual reconciliation.
func (e *Executor) Run(ctx context.Context, jobID int64) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job == nil || !job.IsActive {
		e.log.Warn("job missing or inactive; skipping fire", slog.Int64("job", jobID))
		return nil
	}

	tmpl, err := e.store.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		return fmt.Errorf("load template %d for job %d: %w", job.TemplateID, jobID, err)
	}
	if tmpl == nil {
		// No bookkeeping change: the job stays scheduled for its next
		// natural fire. A one-time job therefore never completes until
		// the template reference is fixed.
		e.log.Error("template not found; send aborted",
			slog.Int64("job", jobID), slog.Int64("template", job.TemplateID))
		return nil
	}

	res := e.mailer.SendBulk(ctx, mailer.BulkRequest{
		Recipients:   job.Recipients,
		Subject:      tmpl.Subject,
		HTMLBody:     tmpl.HTMLBody,
		TextBody:     tmpl.TextBody,
		Placeholders: job.CustomData,
		UserID:       job.UserID,
		TemplateID:   tmpl.ID,
		JobID:        job.ID,
	})

	now := e.now()
	lastRun := now
	nextRun := job.NextRun
	active := true

	spec := job.Spec()
	switch spec.Kind {
	case schedule.Once:
		active = false
		nextRun = time.Time{}
	case schedule.Cron:
		next, err := schedule.NextCron(spec.Expr, now, e.loc)
		if err != nil {
			// The expression parsed at registration; keep the previous
			// next_run rather than guessing.
			e.log.Error("cron next-run computation failed", slog.Int64("job", jobID), slog.Any("err", err))
		} else {
			nextRun = next
		}
	default:
		anchor := job.NextRun
		if anchor.IsZero() {
			anchor = job.ScheduleTime
		}
		next, err := schedule.NextAfter(spec.Kind, anchor)
		if err != nil {
			e.log.Error("next-run computation failed", slog.Int64("job", jobID), slog.Any("err", err))
		} else {
			nextRun = next
		}
	}

	if err := e.store.UpdateJobRun(ctx, job.ID, lastRun, nextRun, active); err != nil {
		// Mail has already gone out; surface everything needed to
		// reconcile by hand.
		e.log.Error("job bookkeeping update failed",
			slog.Int64("job", job.ID),
			slog.Time("last_run", lastRun),
			slog.Time("next_run", nextRun),
			slog.Bool("is_active", active),
			slog.Any("err", err))
		return fmt.Errorf("update job %d after send: %w", job.ID, err)
	}

	e.log.Info("job executed",
		slog.Int64("job", job.ID),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Time("next_run", nextRun),
		slog.Bool("is_active", active))
	return nil
}
