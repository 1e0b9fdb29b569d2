package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "devsend/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Store is the persistence API consumed by the executor, the mailer and
// the app wiring. All methods are safe for concurrent use; conflicting
// writes serialize on the underlying database.
type Store interface {
	// Jobs.
	GetJob(ctx context.Context, id int64) (*ScheduledJob, error)
	ListActiveJobs(ctx context.Context) ([]ScheduledJob, error)
	SaveJob(ctx context.Context, job *ScheduledJob) error
	DeleteJob(ctx context.Context, id int64) error
	// UpdateJobRun atomically writes the post-fire bookkeeping fields.
	// A zero nextRun is stored as null.
	UpdateJobRun(ctx context.Context, id int64, lastRun, nextRun time.Time, active bool) error

	// Templates.
	GetTemplate(ctx context.Context, id int64) (*EmailTemplate, error)
	SaveTemplate(ctx context.Context, t *EmailTemplate) error

	// API keys.
	// NextAPIKey returns the preferred key when it exists and is active,
	// otherwise the least recently used active key (never-used first).
	// userID scopes the lookup when non-zero. Missing rows are (nil, nil).
	NextAPIKey(ctx context.Context, userID, preferredID int64) (*APIKey, error)
	SaveAPIKey(ctx context.Context, k *APIKey) error
	TouchAPIKey(ctx context.Context, id int64, usedAt time.Time) error

	// Email log.
	AppendEmailLog(ctx context.Context, e EmailLog) error

	// Address book.
	GetRecipient(ctx context.Context, userID int64, email string) (*Recipient, error)
	SaveRecipient(ctx context.Context, r *Recipient) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
