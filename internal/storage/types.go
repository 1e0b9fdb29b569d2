package storage

import (
	"time"

	"devsend/internal/schedule"
)

// Config configures storage.
//
// Driver values: "sqlite" (the default when Path is set). An empty
// driver with no path disables storage, which only makes sense in tests.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ScheduledJob is the durable record of a scheduled or recurring send.
//
// Recipients is fixed at creation time; it is not re-derived from the
// address book at fire time. NextRun and LastRun use the zero time as
// "null". CronExpr, when non-empty, overrides ScheduleType-based trigger
// construction.
type ScheduledJob struct {
	ID           int64
	UserID       int64
	Name         string
	TemplateID   int64
	Recipients   []string
	ScheduleType schedule.Kind
	ScheduleTime time.Time
	CronExpr     string
	CustomData   map[string]string
	IsActive     bool
	NextRun      time.Time
	LastRun      time.Time
	CreatedAt    time.Time
}

// Spec resolves the job's schedule variant. A non-empty cron expression
// wins over the stored schedule type, matching how triggers are built.
func (j *ScheduledJob) Spec() schedule.Spec {
	if j.CronExpr != "" && j.ScheduleType != schedule.Once {
		return schedule.Spec{Kind: schedule.Cron, Expr: j.CronExpr}
	}
	return schedule.Spec{Kind: j.ScheduleType, At: j.ScheduleTime}
}

type EmailTemplate struct {
	ID        int64
	UserID    int64
	Name      string
	Subject   string
	HTMLBody  string
	TextBody  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey is a sending credential. Rotation picks the least recently
// used active key, so LastUsed bookkeeping matters.
type APIKey struct {
	ID         int64
	UserID     int64
	Name       string
	Value      string
	IsActive   bool
	UsageCount int64
	LastUsed   time.Time
	CreatedAt  time.Time
}

// EmailLog records one send attempt outcome.
type EmailLog struct {
	ID             int64
	UserID         int64
	RecipientEmail string
	Subject        string
	Status         string // "sent" or "failed"
	Error          string
	APIKeyID       int64
	TemplateID     int64
	JobID          int64
	CreatedAt      time.Time
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Recipient is an address-book row; CustomFields feed placeholder
// personalization at send time.
type Recipient struct {
	ID           int64
	UserID       int64
	Email        string
	Name         string
	CustomFields map[string]string
	IsActive     bool
	CreatedAt    time.Time
}
