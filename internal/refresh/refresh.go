// Package refresh keeps an in-memory snapshot of one calendar's events up to
// date by polling the TimeTree client on a fixed interval.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ttcal/internal/log"
	"ttcal/internal/metrics"
	"ttcal/internal/model"
	"ttcal/internal/timetree"
)

// Scan interval bounds, in minutes.
const (
	DefaultIntervalMinutes = 60
	MinIntervalMinutes     = 5
	MaxIntervalMinutes     = 120
)

// ResolveInterval turns a configured number of minutes into a poll interval.
// Zero selects the default; values outside [5, 120] are rejected.
func ResolveInterval(minutes int) (time.Duration, error) {
	if minutes == 0 {
		minutes = DefaultIntervalMinutes
	}
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return 0, fmt.Errorf("refresh: scan interval %d minutes is outside %d-%d",
			minutes, MinIntervalMinutes, MaxIntervalMinutes)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// EventSyncer is the part of the TimeTree client a Refresher needs.
type EventSyncer interface {
	SyncEvents(ctx context.Context, calendarID string) ([]timetree.RawEvent, error)
}

// UpdateFailedError wraps whatever made a refresh cycle fail.
type UpdateFailedError struct {
	CalendarID string
	Err        error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("refresh: calendar %s: error communicating with API: %v", e.CalendarID, e.Err)
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }

// Option configures a Refresher.
type Option func(*Refresher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) { r.metrics = m }
}

// WithClock overrides the wall clock used for success timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// Refresher polls one calendar. Its interval is fixed at construction; build
// a new Refresher to change it.
type Refresher struct {
	calendarID string
	syncer     EventSyncer
	interval   time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics

	// pollMu serializes Refresh so two polls never overlap.
	pollMu sync.Mutex

	mu          sync.RWMutex
	events      []model.Event
	hasData     bool
	lastSuccess time.Time
	lastErr     error

	schedMu sync.Mutex
	sched   *cron.Cron
	cancel  context.CancelFunc
}

// New creates a Refresher. interval must be at least one second.
func New(calendarID string, syncer EventSyncer, interval time.Duration, opts ...Option) (*Refresher, error) {
	if calendarID == "" {
		return nil, errors.New("refresh: calendar id is empty")
	}
	if syncer == nil {
		return nil, errors.New("refresh: syncer is nil")
	}
	if interval < time.Second {
		return nil, fmt.Errorf("refresh: interval %s is too short", interval)
	}

	r := &Refresher{
		calendarID: calendarID,
		syncer:     syncer,
		interval:   interval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Refresher) CalendarID() string      { return r.calendarID }
func (r *Refresher) Interval() time.Duration { return r.interval }

// Refresh runs one poll. On success the snapshot and the success time are
// replaced; on failure both are left as they were and an
// *UpdateFailedError is returned.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	started := time.Now()
	raws, err := r.syncer.SyncEvents(ctx, r.calendarID)
	if err != nil {
		failed := &UpdateFailedError{CalendarID: r.calendarID, Err: err}
		r.mu.Lock()
		r.lastErr = failed
		r.mu.Unlock()
		r.metrics.RecordPoll(r.calendarID, false, time.Since(started), 0, time.Time{})
		appLog.Error("error updating calendar data", err, "calendar", r.calendarID)
		return failed
	}

	events := timetree.ParseEvents(raws)
	at := r.now()

	r.mu.Lock()
	r.events = events
	r.hasData = true
	r.lastSuccess = at
	r.lastErr = nil
	r.mu.Unlock()

	r.metrics.RecordPoll(r.calendarID, true, time.Since(started), len(events), at)
	appLog.Debug("calendar refreshed", "calendar", r.calendarID, "events", len(events))
	return nil
}

// Snapshot returns the events of the last successful poll. ok is false until
// a poll has succeeded. The returned slice must not be modified.
func (r *Refresher) Snapshot() (events []model.Event, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events, r.hasData
}

// LastSuccess returns the wall-clock time of the last successful poll.
func (r *Refresher) LastSuccess() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSuccess, r.hasData
}

// LastError returns the failure of the most recent poll, or nil if it
// succeeded or no poll has run yet.
func (r *Refresher) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Available reports whether the most recent poll succeeded.
func (r *Refresher) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasData && r.lastErr == nil
}

// Start schedules a poll every interval until Stop is called or ctx ends.
// It does not poll immediately. Calling Start twice is an error.
func (r *Refresher) Start(ctx context.Context) error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.sched != nil {
		return errors.New("refresh: already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{calendarID: r.calendarID}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		// Failures are recorded on the refresher and logged by Refresh.
		_ = r.Refresh(ctx)
	}))
	c.Start()

	r.sched = c
	r.cancel = cancel
	appLog.Info("refresher started", "calendar", r.calendarID, "interval", r.interval.String())
	return nil
}

// Stop cancels any running poll and waits for it to return.
func (r *Refresher) Stop() {
	r.schedMu.Lock()
	c, cancel := r.sched, r.cancel
	r.sched, r.cancel = nil, nil
	r.schedMu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	appLog.Info("refresher stopped", "calendar", r.calendarID)
}

// cronLogger routes cron's own logging into the application logger.
type cronLogger struct {
	calendarID string
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, append([]any{"calendar", l.calendarID}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, append([]any{"calendar", l.calendarID}, keysAndValues...)...)
}
