package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"devsend/internal/schedule"
	"devsend/internal/storage"
)

// JobKey is the dispatcher key for a job id.
func JobKey(id int64) string { return fmt.Sprintf("job_%d", id) }

// Register builds and arms the trigger for a job. Any existing trigger
// for the same id is replaced first, so registering is an upsert and a
// job can never hold two pending fires.
//
// Registering an inactive job removes any prior trigger and arms
// nothing. A malformed cron expression (or other invalid schedule) is
// returned to the caller; the job ends up unregistered.
func (s *Service) Register(job *storage.ScheduledJob) error {
	if job == nil || job.ID == 0 {
		return fmt.Errorf("register: job without id")
	}
	key := JobKey(job.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)

	if !job.IsActive {
		return nil
	}

	spec := job.Spec()
	if err := spec.Validate(); err != nil {
		s.log.Error("trigger register failed", slog.String("job", key), slog.Any("err", err))
		return err
	}

	// timeout stays zero: the worker resolves the current default at
	// fire time.
	d := &jobDef{
		key:   key,
		jobID: job.ID,
		state: &runState{},
	}

	if spec.Kind == schedule.Once {
		d.onceAt = spec.At
		s.defs[key] = d
		if s.stopCh != nil {
			s.armOnce(d)
		}
		s.log.Debug("one-time trigger registered", slog.String("job", key), slog.Time("at", d.onceAt))
		return nil
	}

	cronSpec, err := schedule.CronSpec(spec)
	if err != nil {
		s.log.Error("trigger register failed", slog.String("job", key), slog.Any("err", err))
		return err
	}
	d.spec = cronSpec
	s.defs[key] = d
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			delete(s.defs, key)
			s.log.Error("trigger register failed", slog.String("job", key), slog.String("spec", cronSpec), slog.Any("err", err))
			return err
		}
	}
	s.log.Debug("trigger registered", slog.String("job", key), slog.String("spec", cronSpec))
	return nil
}

// Deregister cancels and removes the job's pending trigger. Removing an
// unknown id is not an error.
func (s *Service) Deregister(jobID int64) bool {
	key := JobKey(jobID)
	s.mu.Lock()
	removed := s.removeLocked(key)
	s.mu.Unlock()
	if removed {
		s.log.Debug("trigger removed", slog.String("job", key))
	}
	return removed
}

// Registered reports whether the job currently holds a trigger.
func (s *Service) Registered(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[JobKey(jobID)]
	return ok
}

// Entries lists the currently registered triggers.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := EntryInfo{Key: d.key, JobID: d.jobID, Spec: d.spec}
		if d.oneTime() {
			it.Next = d.onceAt
		} else if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		infos = append(infos, it)
	}
	return infos
}

// removeLocked drops the def, its cron entry and any armed timer.
// Call with s.mu held.
func (s *Service) removeLocked(key string) bool {
	d, ok := s.defs[key]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, key)

	s.tmu.Lock()
	if t, tok := s.timers[key]; tok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	// Bump the version so a timer callback already in flight is ignored.
	s.timerVer[key]++
	s.tmu.Unlock()
	return true
}

// addCronLocked arms a recurring def on the running cron instance.
// Call with s.mu held and s.c non-nil.
func (s *Service) addCronLocked(d *jobDef) error {
	eid, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(task{key: d.key, jobID: d.jobID, timeout: d.timeout, state: d.state})
	})
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// armOnce arms the one-shot timer for a one-time def. A fire instant in
// the past fires immediately: missed one-time sends catch up rather
// than silently never firing.
func (s *Service) armOnce(d *jobDef) {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	if t, ok := s.timers[d.key]; ok {
		_ = t.Stop()
	}
	ver := s.timerVer[d.key] + 1
	s.timerVer[d.key] = ver

	delay := d.onceAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	key := d.key
	s.timers[key] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.timerVer[key] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, key)
		s.tmu.Unlock()

		// A fired one-time trigger deregisters itself; the executor
		// deactivates the job record separately.
		s.mu.Lock()
		delete(s.defs, key)
		s.mu.Unlock()

		s.enqueue(task{key: d.key, jobID: d.jobID, timeout: d.timeout, state: d.state})
	})
}

// rebuildOnceTimersLocked re-arms timers for one-time defs after Start.
// Call with s.mu held.
func (s *Service) rebuildOnceTimersLocked() {
	for _, d := range s.defs {
		if d.oneTime() {
			s.armOnce(d)
		}
	}
}
