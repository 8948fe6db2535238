// Package cronexpr validates cron expressions and computes next-fire times.
// Parsed schedules are cached so the scheduler does not reparse the same
// expression on every evaluation tick.
package cronexpr

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
)

// Standard 5-field grammar with an optional leading seconds field.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

var schedules = gocache.New(30*time.Minute, 10*time.Minute)

// Validate reports whether expr is a well-formed cron expression with at
// least one future occurrence.
func Validate(expr string) error {
	if _, err := NextRun(expr, time.Now()); err != nil {
		return err
	}
	return nil
}

// NextRun returns the first fire time strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	// A schedule with no future occurrence (Feb 30, say) parses fine but
	// yields the zero time; such a job could never run.
	next := schedule.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", expr)
	}
	return next, nil
}

// NextRunAfterSkips advances past occurrences that fall at or before now,
// so a trigger suppressed by a still-running execution is skipped rather
// than queued.
func NextRunAfterSkips(expr string, from, now time.Time) (time.Time, error) {
	next, err := NextRun(expr, from)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		next, err = NextRun(expr, next)
		if err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

func parse(expr string) (cron.Schedule, error) {
	if cached, ok := schedules.Get(expr); ok {
		return cached.(cron.Schedule), nil
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}

	schedules.Set(expr, schedule, gocache.DefaultExpiration)
	return schedule, nil
}
