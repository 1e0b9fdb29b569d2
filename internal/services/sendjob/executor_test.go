package sendjob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"devsend/internal/schedule"
	"devsend/internal/services/mailer"
	"devsend/internal/storage"
)

type fakeStore struct {
	jobs      map[int64]*storage.ScheduledJob
	templates map[int64]*storage.EmailTemplate

	jobErr    error
	updateErr error

	updated    bool
	gotLastRun time.Time
	gotNextRun time.Time
	gotActive  bool
	listErr    error
	listResult []storage.ScheduledJob
}

func (f *fakeStore) GetJob(_ context.Context, id int64) (*storage.ScheduledJob, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return f.jobs[id], nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id int64) (*storage.EmailTemplate, error) {
	return f.templates[id], nil
}

func (f *fakeStore) UpdateJobRun(_ context.Context, id int64, lastRun, nextRun time.Time, active bool) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = true
	f.gotLastRun = lastRun
	f.gotNextRun = nextRun
	f.gotActive = active
	if j, ok := f.jobs[id]; ok {
		j.LastRun = lastRun
		j.NextRun = nextRun
		j.IsActive = active
	}
	return nil
}

func (f *fakeStore) ListActiveJobs(context.Context) ([]storage.ScheduledJob, error) {
	return f.listResult, f.listErr
}

type fakeMailer struct {
	calls []mailer.BulkRequest
	res   mailer.BulkResult
}

func (f *fakeMailer) SendBulk(_ context.Context, req mailer.BulkRequest) mailer.BulkResult {
	f.calls = append(f.calls, req)
	return f.res
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecutor(st *fakeStore, m *fakeMailer, now time.Time) *Executor {
	e := NewExecutor(st, m, time.UTC, discardLogger())
	e.now = func() time.Time { return now }
	return e
}

func dailyJob(id int64) *storage.ScheduledJob {
	return &storage.ScheduledJob{
		ID:           id,
		UserID:       7,
		Name:         "digest",
		TemplateID:   1,
		Recipients:   []string{"a@example.com", "b@example.com"},
		ScheduleType: schedule.Daily,
		ScheduleTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		NextRun:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		CustomData:   map[string]string{"company": "Acme"},
		IsActive:     true,
	}
}

func baseTemplate() *storage.EmailTemplate {
	return &storage.EmailTemplate{
		ID:       1,
		UserID:   7,
		Name:     "digest",
		Subject:  "Hello {{name}}",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
	}
}

func TestRunDailyAdvancesFromAnchor(t *testing.T) {
	t.Parallel()

	job := dailyJob(1)
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{1: job},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
	}
	m := &fakeMailer{res: mailer.BulkResult{Sent: 2}}
	// Fires late: the trigger was due 09:00 but the worker picked it
	// up at 09:03. next_run must still advance from the anchor.
	now := time.Date(2026, 3, 2, 9, 3, 0, 0, time.UTC)
	e := testExecutor(st, m, now)

	if err := e.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("SendBulk calls = %d, want 1", len(m.calls))
	}
	if got := m.calls[0]; got.UserID != 7 || got.TemplateID != 1 || got.JobID != 1 {
		t.Fatalf("attribution = %+v", got)
	}
	if !st.gotLastRun.Equal(now) {
		t.Fatalf("last_run = %v, want %v", st.gotLastRun, now)
	}
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if !st.gotNextRun.Equal(want) {
		t.Fatalf("next_run = %v, want %v", st.gotNextRun, want)
	}
	if !st.gotActive {
		t.Fatal("recurring job deactivated")
	}
}

func TestRunSuccessiveFiresAdvanceOnePeriodEach(t *testing.T) {
	t.Parallel()

	job := dailyJob(1)
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{1: job},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
	}
	m := &fakeMailer{}
	now := time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC)
	e := testExecutor(st, m, now)

	if err := e.Run(context.Background(), 1); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := st.gotNextRun

	e.now = func() time.Time { return now.Add(24*time.Hour + 5*time.Minute) }
	if err := e.Run(context.Background(), 1); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got, want := st.gotNextRun, first.Add(24*time.Hour); !got.Equal(want) {
		t.Fatalf("second next_run = %v, want %v", got, want)
	}
}

func TestRunOnceDeactivates(t *testing.T) {
	t.Parallel()

	job := dailyJob(2)
	job.ScheduleType = schedule.Once
	job.NextRun = job.ScheduleTime
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{2: job},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
	}
	m := &fakeMailer{res: mailer.BulkResult{Sent: 2}}
	e := testExecutor(st, m, time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC))

	if err := e.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.gotActive {
		t.Fatal("one-time job still active after fire")
	}
	if !st.gotNextRun.IsZero() {
		t.Fatalf("one-time job next_run = %v, want zero", st.gotNextRun)
	}
}

func TestRunCronUsesExpression(t *testing.T) {
	t.Parallel()

	job := dailyJob(3)
	job.CronExpr = "*/15 * * * *"
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{3: job},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
	}
	m := &fakeMailer{}
	now := time.Date(2026, 3, 2, 9, 3, 0, 0, time.UTC)
	e := testExecutor(st, m, now)

	if err := e.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	if !st.gotNextRun.Equal(want) {
		t.Fatalf("next_run = %v, want %v", st.gotNextRun, want)
	}
}

func TestRunMissingTemplateLeavesJobUntouched(t *testing.T) {
	t.Parallel()

	job := dailyJob(4)
	job.TemplateID = 99
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{4: job},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
	}
	m := &fakeMailer{}
	e := testExecutor(st, m, time.Now())

	if err := e.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.calls) != 0 {
		t.Fatal("SendBulk called without a template")
	}
	if st.updated {
		t.Fatal("bookkeeping written despite aborted send")
	}
}

func TestRunMissingOrInactiveJobIsNoOp(t *testing.T) {
	t.Parallel()

	inactive := dailyJob(5)
	inactive.ID = 5
	inactive.IsActive = false
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{5: inactive},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
	}
	m := &fakeMailer{}
	e := testExecutor(st, m, time.Now())

	if err := e.Run(context.Background(), 5); err != nil {
		t.Fatalf("Run inactive: %v", err)
	}
	if err := e.Run(context.Background(), 404); err != nil {
		t.Fatalf("Run missing: %v", err)
	}
	if len(m.calls) != 0 || st.updated {
		t.Fatal("missing/inactive job triggered work")
	}
}

func TestRunBookkeepingFailureReturnsError(t *testing.T) {
	t.Parallel()

	job := dailyJob(6)
	st := &fakeStore{
		jobs:      map[int64]*storage.ScheduledJob{6: job},
		templates: map[int64]*storage.EmailTemplate{1: baseTemplate()},
		updateErr: errors.New("disk full"),
	}
	m := &fakeMailer{}
	e := testExecutor(st, m, time.Now())

	if err := e.Run(context.Background(), 6); err == nil {
		t.Fatal("Run returned nil despite bookkeeping failure")
	}
	if len(m.calls) != 1 {
		t.Fatal("send should have happened before bookkeeping")
	}
}

type fakeDispatcher struct {
	registered []int64
	failID     int64
}

func (f *fakeDispatcher) Register(job *storage.ScheduledJob) error {
	if job.ID == f.failID {
		return errors.New("bad schedule")
	}
	f.registered = append(f.registered, job.ID)
	return nil
}

func TestLoadAllSkipsFailedRegistrations(t *testing.T) {
	t.Parallel()

	a, b, c := dailyJob(1), dailyJob(2), dailyJob(3)
	st := &fakeStore{listResult: []storage.ScheduledJob{*a, *b, *c}}
	disp := &fakeDispatcher{failID: 2}

	n, err := LoadAll(context.Background(), st, disp, discardLogger())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("registered = %d, want 2", n)
	}
	if len(disp.registered) != 2 || disp.registered[0] != 1 || disp.registered[1] != 3 {
		t.Fatalf("registered ids = %v", disp.registered)
	}
}

func TestLoadAllPropagatesListError(t *testing.T) {
	t.Parallel()

	st := &fakeStore{listErr: errors.New("db closed")}
	if _, err := LoadAll(context.Background(), st, &fakeDispatcher{}, discardLogger()); err == nil {
		t.Fatal("LoadAll swallowed list error")
	}
}
