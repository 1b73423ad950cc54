// Package scheduler implements the Scheduler Loop: it computes the next
// wall-clock activation from an interval and a daily start time, sleeps in
// short tranches so signals interrupt cleanly, and dispatches orchestrator
// runs (spec §4.8). Adapted from the epoch-anchor-modulo algorithm in
// the original implementation's scheduling helper.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// maxSleepTranche bounds a single sleep call so SIGINT/SIGTERM handling in
// the caller's context can interrupt promptly (spec §4.8).
const maxSleepTranche = 60 * time.Second

// epochAnchor is the reference date the interval-multiple check is
// computed against. Any fixed date works; 1970-01-01 keeps the arithmetic
// anchored to the Unix epoch's day boundary.
var epochAnchor = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// NextActivation returns the earliest instant after now whose clock-time in
// loc equals hour:minute and whose offset from the epoch anchor is a
// multiple of interval (spec §4.8).
func NextActivation(now time.Time, loc *time.Location, hour, minute int, interval time.Duration) time.Time {
	intervalSeconds := int64(interval / time.Second)
	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}
	anchor := time.Date(epochAnchor.Year(), epochAnchor.Month(), epochAnchor.Day(), hour, minute, 0, 0, loc)

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	for i := 0; i < 3650; i++ {
		if candidate.After(now) {
			offset := int64(candidate.Sub(anchor) / time.Second)
			if mod(offset, intervalSeconds) == 0 {
				return candidate
			}
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Runner is invoked synchronously at each activation; it returns an error
// only for logging purposes, the loop always continues.
type Runner func(ctx context.Context) error

// Loop drives the scheduler: compute next activation, sleep in short
// tranches, run, repeat, until ctx is cancelled.
type Loop struct {
	Location *time.Location
	Hour     int
	Minute   int
	Interval time.Duration
	Run      Runner
	Logger   *slog.Logger

	// now is overridable for tests; nil means time.Now.
	now func() time.Time
}

// Start blocks until ctx is cancelled, invoking Run at each computed
// activation.
func (l *Loop) Start(ctx context.Context) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	nowFn := l.now
	if nowFn == nil {
		nowFn = time.Now
	}

	for {
		next := NextActivation(nowFn(), l.Location, l.Hour, l.Minute, l.Interval)
		logger.Info("next activation computed", "at", next)

		if !l.sleepUntil(ctx, nowFn, next) {
			return
		}

		logger.Info("activation fired, running orchestrator")
		if err := l.Run(ctx); err != nil {
			logger.Error("scheduled run returned an error", "error", err)
		}
	}
}

// sleepUntil sleeps in tranches of at most maxSleepTranche, returning false
// if ctx is cancelled before target is reached.
func (l *Loop) sleepUntil(ctx context.Context, nowFn func() time.Time, target time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		remaining := target.Sub(nowFn())
		if remaining <= 0 {
			return true
		}
		tranche := remaining
		if tranche > maxSleepTranche {
			tranche = maxSleepTranche
		}

		timer := time.NewTimer(tranche)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
