// Package scheduler dispatches scheduled send jobs at their fire times.
//
// # Overview
//
// The Service holds exactly one pending trigger per registered job id
// (key "job_<id>"). Recurring schedules (daily, weekly, monthly, raw
// 5-field cron) become cron entries; one-time schedules become one-shot
// timers. Registering an id that already has a trigger replaces it, so
// a job can never double-fire. Fires are handed to a worker pool which
// invokes the job runner asynchronously from whoever registered the job.
//
// # Concurrency and overlap
//
// Register/Deregister are fast, synchronous calls against in-memory
// state guarded by a mutex; they are safe from any goroutine. A fire is
// skipped while the same job's previous run is still executing, so each
// job's runs are strictly sequential. Different jobs run in parallel on
// the pool.
//
// # Lifecycle
//
// Start/Stop are idempotent. Registering while stopped is supported:
// definitions are stored and armed on the next Start, which also
// re-arms one-time timers (past-due one-time jobs fire immediately).
package scheduler
