package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the dispatcher service.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Europe/Berlin"
}

// Runner executes a job when its trigger fires. Implementations must
// confine failures to their own boundary; a returned error is logged
// and the dispatcher keeps running.
type Runner interface {
	Run(ctx context.Context, jobID int64) error
}

// runState serializes fires of a single job id.
type runState struct {
	mu      sync.Mutex
	running bool
}

// jobDef is a persisted trigger definition. Cron-backed defs carry a
// spec and (while running) a cron entry; one-time defs carry the fire
// instant and are armed as timers.
type jobDef struct {
	key     string
	jobID   int64
	spec    string    // cron spec; empty for one-time jobs
	onceAt  time.Time // one-time fire instant; zero for cron jobs
	timeout time.Duration
	entryID cron.EntryID
	state   *runState
}

func (d *jobDef) oneTime() bool { return d.spec == "" }

type task struct {
	key     string
	jobID   int64
	timeout time.Duration
	state   *runState
}

// EntryInfo describes one registered trigger.
type EntryInfo struct {
	Key   string
	JobID int64
	Spec  string
	Next  time.Time
	Prev  time.Time
}
