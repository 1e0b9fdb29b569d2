// Package schedule defines the schedule variants a send job can carry
// and computes next-fire instants from them.
//
// A Spec is either a one-time instant, a simple recurrence (daily,
// weekly, monthly anchored at a wall-clock instant), or a raw 5-field
// cron expression. Cron expressions override the simple recurrence when
// both are present on a job.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is the closed set of schedule variants.
type Kind int

const (
	Once Kind = iota
	Daily
	Weekly
	Monthly
	Cron
)

func (k Kind) String() string {
	switch k {
	case Once:
		return "once"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Cron:
		return "cron"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a stored schedule type to its Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once":
		return Once, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "cron":
		return Cron, nil
	default:
		return 0, fmt.Errorf("unknown schedule type %q", s)
	}
}

// Spec is a fully-resolved schedule definition.
//
// At is the anchor instant: the exact fire time for Once, and the
// "what time of day / day of week / day of month" reference for the
// simple recurrences. Expr is set only for Kind == Cron.
type Spec struct {
	Kind Kind
	At   time.Time
	Expr string
}

func (sp Spec) Validate() error {
	switch sp.Kind {
	case Cron:
		if _, err := parseCronExpr(sp.Expr); err != nil {
			return err
		}
		return nil
	case Once, Daily, Weekly, Monthly:
		if sp.At.IsZero() {
			return fmt.Errorf("%s schedule requires an anchor time", sp.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %d", int(sp.Kind))
	}
}

// fireParser accepts exactly the 5 standard cron fields
// (minute hour day-of-month month day-of-week).
var fireParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func parseCronExpr(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if len(strings.Fields(expr)) != 5 {
		return nil, fmt.Errorf("cron expression %q: want 5 fields (minute hour dom month dow)", expr)
	}
	sched, err := fireParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// CronSpec renders the trigger spec the dispatcher registers for a
// recurring schedule. Once has no cron form (it is timer-driven).
func CronSpec(sp Spec) (string, error) {
	switch sp.Kind {
	case Cron:
		if _, err := parseCronExpr(sp.Expr); err != nil {
			return "", err
		}
		return strings.TrimSpace(sp.Expr), nil
	case Daily:
		return fmt.Sprintf("%d %d * * *", sp.At.Minute(), sp.At.Hour()), nil
	case Weekly:
		return fmt.Sprintf("%d %d * * %d", sp.At.Minute(), sp.At.Hour(), int(sp.At.Weekday())), nil
	case Monthly:
		return fmt.Sprintf("%d %d %d * *", sp.At.Minute(), sp.At.Hour(), sp.At.Day()), nil
	case Once:
		return "", fmt.Errorf("once schedule has no cron spec")
	default:
		return "", fmt.Errorf("unknown schedule kind %d", int(sp.Kind))
	}
}

// NextCron returns the first fire instant of the 5-field expression
// strictly after the given time, evaluated in loc.
func NextCron(expr string, after time.Time, loc *time.Location) (time.Time, error) {
	sched, err := parseCronExpr(expr)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return sched.Next(after.In(loc)), nil
}
