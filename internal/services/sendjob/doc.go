// Package sendjob executes scheduled send jobs when their triggers fire
// and reconciles the job record afterwards.
//
// The Executor is the dispatcher's runner: it loads the job and its
// template, hands the send to the mailer, then advances the job's run
// bookkeeping (last_run, next_run, is_active). All failures stop at the
// executor's boundary as log entries; one job's failure never affects
// the dispatcher or other jobs.
//
// LoadAll is the startup half of the lifecycle: it re-registers every
// active job from the store so triggers survive process restarts.
package sendjob
