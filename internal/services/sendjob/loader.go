package sendjob

import (
	"context"
	"log/slog"

	"devsend/internal/storage"
)

// ListStore lists the jobs that need triggers at startup.
type ListStore interface {
	ListActiveJobs(ctx context.Context) ([]storage.ScheduledJob, error)
}

// Dispatcher registers a trigger for a job.
type Dispatcher interface {
	Register(job *storage.ScheduledJob) error
}

// LoadAll registers a trigger for every active persisted job. A job
// whose schedule no longer validates is logged and skipped so one bad
// row cannot block the rest of the fleet. Returns the number of jobs
// registered.
func LoadAll(ctx context.Context, store ListStore, disp Dispatcher, log *slog.Logger) (int, error) {
	jobs, err := store.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for i := range jobs {
		job := &jobs[i]
		if err := disp.Register(job); err != nil {
			log.Error("job registration failed; skipping",
				slog.Int64("job", job.ID), slog.Any("err", err))
			continue
		}
		registered++
	}
	log.Info("scheduled jobs loaded", slog.Int("total", len(jobs)), slog.Int("registered", registered))
	return registered, nil
}
