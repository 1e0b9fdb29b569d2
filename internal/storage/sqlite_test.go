package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"devsend/internal/schedule"
	logx "devsend/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "devsend.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestJobRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	job := &ScheduledJob{
		UserID:       7,
		Name:         "weekly digest",
		TemplateID:   3,
		Recipients:   []string{"a@example.com", "b@example.com"},
		ScheduleType: schedule.Weekly,
		ScheduleTime: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		CustomData:   map[string]string{"company": "Acme"},
		IsActive:     true,
		NextRun:      time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC),
	}
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("SaveJob did not assign an id")
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("GetJob returned nil for existing job")
	}
	if got.Name != job.Name || got.ScheduleType != schedule.Weekly || len(got.Recipients) != 2 {
		t.Fatalf("unexpected job: %+v", got)
	}
	if !got.ScheduleTime.Equal(job.ScheduleTime) || !got.NextRun.Equal(job.NextRun) {
		t.Fatalf("times not preserved: %+v", got)
	}
	if !got.LastRun.IsZero() {
		t.Fatalf("LastRun should be zero, got %v", got.LastRun)
	}
	if got.CustomData["company"] != "Acme" {
		t.Fatalf("custom data not preserved: %v", got.CustomData)
	}
}

func TestGetJobMissing(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	got, err := st.GetJob(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil for missing job, got %+v", got)
	}
}

func TestListActiveJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	active := &ScheduledJob{UserID: 1, Name: "active", TemplateID: 1,
		ScheduleType: schedule.Daily, ScheduleTime: time.Now().UTC(), IsActive: true}
	inactive := &ScheduledJob{UserID: 1, Name: "inactive", TemplateID: 1,
		ScheduleType: schedule.Daily, ScheduleTime: time.Now().UTC(), IsActive: false}
	for _, j := range []*ScheduledJob{active, inactive} {
		if err := st.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	jobs, err := st.ListActiveJobs(ctx)
	if err != nil {
		t.Fatalf("ListActiveJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != active.ID {
		t.Fatalf("want only the active job, got %+v", jobs)
	}
}

func TestUpdateJobRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	job := &ScheduledJob{UserID: 1, Name: "once", TemplateID: 1,
		ScheduleType: schedule.Once, ScheduleTime: time.Now().UTC(), IsActive: true}
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	fired := time.Date(2024, 1, 10, 9, 0, 1, 0, time.UTC)
	if err := st.UpdateJobRun(ctx, job.ID, fired, time.Time{}, false); err != nil {
		t.Fatalf("UpdateJobRun: %v", err)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.IsActive {
		t.Fatal("job should be inactive")
	}
	if !got.LastRun.Equal(fired) || !got.NextRun.IsZero() {
		t.Fatalf("bookkeeping wrong: last=%v next=%v", got.LastRun, got.NextRun)
	}

	if err := st.UpdateJobRun(ctx, 12345, fired, time.Time{}, false); err == nil {
		t.Fatal("expected error updating missing job")
	}
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	job := &ScheduledJob{UserID: 1, Name: "gone", TemplateID: 1,
		ScheduleType: schedule.Daily, ScheduleTime: time.Now().UTC(), IsActive: true}
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := st.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil || got != nil {
		t.Fatalf("job still present after delete: %+v err=%v", got, err)
	}
}

func TestAPIKeyRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	fresh := &APIKey{UserID: 1, Name: "fresh", Value: "k-fresh", IsActive: true}
	stale := &APIKey{UserID: 1, Name: "stale", Value: "k-stale", IsActive: true,
		LastUsed: time.Now().Add(-time.Hour).UTC()}
	recent := &APIKey{UserID: 1, Name: "recent", Value: "k-recent", IsActive: true,
		LastUsed: time.Now().UTC()}
	disabled := &APIKey{UserID: 1, Name: "disabled", Value: "k-off", IsActive: false}
	for _, k := range []*APIKey{stale, recent, fresh, disabled} {
		if err := st.SaveAPIKey(ctx, k); err != nil {
			t.Fatalf("SaveAPIKey: %v", err)
		}
	}

	// Never-used keys rotate in first.
	got, err := st.NextAPIKey(ctx, 1, 0)
	if err != nil {
		t.Fatalf("NextAPIKey: %v", err)
	}
	if got == nil || got.ID != fresh.ID {
		t.Fatalf("want never-used key first, got %+v", got)
	}

	if err := st.TouchAPIKey(ctx, fresh.ID, time.Now().UTC()); err != nil {
		t.Fatalf("TouchAPIKey: %v", err)
	}

	// Then least recently used.
	got, err = st.NextAPIKey(ctx, 1, 0)
	if err != nil {
		t.Fatalf("NextAPIKey: %v", err)
	}
	if got == nil || got.ID != stale.ID {
		t.Fatalf("want least recently used key, got %+v", got)
	}

	// Preferred key wins when active.
	got, err = st.NextAPIKey(ctx, 1, recent.ID)
	if err != nil {
		t.Fatalf("NextAPIKey: %v", err)
	}
	if got == nil || got.ID != recent.ID {
		t.Fatalf("want preferred key, got %+v", got)
	}

	// Inactive preferred falls back to rotation.
	got, err = st.NextAPIKey(ctx, 1, disabled.ID)
	if err != nil {
		t.Fatalf("NextAPIKey: %v", err)
	}
	if got == nil || got.ID == disabled.ID {
		t.Fatalf("inactive key must not be returned, got %+v", got)
	}
}

func TestRecipientAndEmailLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	r := &Recipient{UserID: 2, Email: "c@example.com", Name: "Carol",
		CustomFields: map[string]string{"plan": "pro"}, IsActive: true}
	if err := st.SaveRecipient(ctx, r); err != nil {
		t.Fatalf("SaveRecipient: %v", err)
	}

	got, err := st.GetRecipient(ctx, 2, "c@example.com")
	if err != nil {
		t.Fatalf("GetRecipient: %v", err)
	}
	if got == nil || got.Name != "Carol" || got.CustomFields["plan"] != "pro" {
		t.Fatalf("unexpected recipient: %+v", got)
	}

	// Scoped lookup for another tenant misses.
	got, err = st.GetRecipient(ctx, 3, "c@example.com")
	if err != nil || got != nil {
		t.Fatalf("cross-tenant lookup should miss, got %+v err=%v", got, err)
	}

	if err := st.AppendEmailLog(ctx, EmailLog{
		UserID: 2, RecipientEmail: "c@example.com", Subject: "hi",
		Status: StatusSent, APIKeyID: 1, TemplateID: 1, JobID: 1,
	}); err != nil {
		t.Fatalf("AppendEmailLog: %v", err)
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	tpl := &EmailTemplate{UserID: 1, Name: "welcome", Subject: "Hello {{name}}",
		HTMLBody: "<p>Hi {{name}}</p>", TextBody: "Hi {{name}}"}
	if err := st.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}

	got, err := st.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got == nil || got.Subject != tpl.Subject || got.TextBody != tpl.TextBody {
		t.Fatalf("unexpected template: %+v", got)
	}

	missing, err := st.GetTemplate(ctx, 404)
	if err != nil || missing != nil {
		t.Fatalf("missing template should be (nil, nil), got %+v err=%v", missing, err)
	}
}
