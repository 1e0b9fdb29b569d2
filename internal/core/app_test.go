package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devsend/internal/schedule"
	"devsend/internal/storage"
)

// newTestApp wires a full App against a throwaway sqlite file. The
// dispatcher is left unstarted: registration bookkeeping does not need
// a running cron instance.
func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
logging:
  level: error
  console: false
storage:
  driver: sqlite
  path: %s
  busy_timeout: 1s
scheduler:
  workers: 1
  queue_size: 8
  timezone: UTC
smtp:
  host: smtp.example.com
  port: 587
  username: apikey
  from_email: noreply@example.com
  from_name: Devsend
`, filepath.Join(dir, "devsend.db"))

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	app, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = app.store.Close() })
	return app
}

func testJob(schedType schedule.Kind) *storage.ScheduledJob {
	return &storage.ScheduledJob{
		UserID:       1,
		Name:         "digest",
		TemplateID:   1,
		Recipients:   []string{"a@example.com"},
		ScheduleType: schedType,
		ScheduleTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		IsActive:     true,
	}
}

func TestScheduleJobPersistsAndRegisters(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	ctx := context.Background()

	job := testJob(schedule.Daily)
	if err := app.ScheduleJob(ctx, job); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("job id not assigned")
	}
	if !app.sched.Registered(job.ID) {
		t.Fatal("job holds no trigger")
	}

	got, err := app.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("job not persisted")
	}
	if !got.NextRun.Equal(job.ScheduleTime) {
		t.Fatalf("next run = %v, want schedule time %v", got.NextRun, job.ScheduleTime)
	}
}

// A malformed cron expression fails registration but not persistence:
// the row stays active so the caller can repair and re-schedule it.
func TestScheduleJobMalformedCronKeepsRow(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	ctx := context.Background()

	job := testJob(schedule.Daily)
	job.CronExpr = "not a cron expression"
	if err := app.ScheduleJob(ctx, job); err == nil {
		t.Fatal("expected registration error")
	}
	if job.ID == 0 {
		t.Fatal("row was not persisted before registration failed")
	}
	if app.sched.Registered(job.ID) {
		t.Fatal("failed registration must not leave a trigger")
	}

	got, err := app.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("job row missing after failed registration")
	}
	if !got.IsActive {
		t.Fatal("job deactivated by failed registration")
	}
}

func TestRemoveJobClearsStoreAndDispatcher(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	ctx := context.Background()

	job := testJob(schedule.Daily)
	if err := app.ScheduleJob(ctx, job); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if err := app.RemoveJob(ctx, job.ID); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}

	if app.sched.Registered(job.ID) {
		t.Fatal("removed job still holds a trigger")
	}
	got, err := app.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Fatalf("removed job still persisted: %+v", got)
	}
}

func TestPauseAndResumeJob(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	ctx := context.Background()

	job := testJob(schedule.Weekly)
	if err := app.ScheduleJob(ctx, job); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}

	if err := app.PauseJob(ctx, job.ID); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if app.sched.Registered(job.ID) {
		t.Fatal("paused job still holds a trigger")
	}
	got, err := app.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil || got.IsActive {
		t.Fatalf("paused job = %+v, want persisted inactive", got)
	}

	if err := app.ResumeJob(ctx, job.ID); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if !app.sched.Registered(job.ID) {
		t.Fatal("resumed job holds no trigger")
	}
	got, err = app.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil || !got.IsActive {
		t.Fatalf("resumed job = %+v, want persisted active", got)
	}
}

func TestPauseUnknownJobFails(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	if err := app.PauseJob(context.Background(), 404); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
