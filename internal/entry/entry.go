// Package entry wires one TimeTree client and one refresher per configured
// calendar and owns their lifecycle.
package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ttcal/internal/config"
	appLog "ttcal/internal/log"
	"ttcal/internal/metrics"
	"ttcal/internal/refresh"
	"ttcal/internal/timetree"
)

// ErrNotFound is returned for calendar ids that have no entry.
var ErrNotFound = errors.New("entry: calendar not configured")

// Entry is a linked calendar: its settings, the session client used to reach
// it and the refresher holding its snapshot. Both are built and torn down
// together.
type Entry struct {
	Config    config.EntryConfig
	Client    *timetree.Client
	Refresher *refresh.Refresher
}

// ID returns the calendar id.
func (e *Entry) ID() string { return e.Config.CalendarID }

// Name returns the configured calendar name, or the id if none was captured.
func (e *Entry) Name() string {
	if e.Config.CalendarName != "" {
		return e.Config.CalendarName
	}
	return e.Config.CalendarID
}

// CreateEvent adds an event to the calendar and then polls so the snapshot
// includes it. A failed follow-up poll is logged and not returned; the event
// was created.
func (e *Entry) CreateEvent(ctx context.Context, in timetree.EventInput) (*timetree.RawEvent, error) {
	created, err := e.Client.CreateEvent(ctx, e.ID(), in)
	if err != nil {
		return nil, err
	}
	if err := e.Refresher.Refresh(ctx); err != nil {
		appLog.Warn("refresh after create failed", "calendar", e.ID(), "err", err)
	}
	return created, nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfigPath makes Reconfigure persist the configuration to path.
func WithConfigPath(path string) Option {
	return func(m *Manager) { m.configPath = path }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClientOptions adds options to every client the manager builds.
func WithClientOptions(opts ...timetree.Option) Option {
	return func(m *Manager) { m.clientOpts = append(m.clientOpts, opts...) }
}

// Manager owns the entries of one process.
type Manager struct {
	configPath string
	metrics    *metrics.Metrics
	clientOpts []timetree.Option

	// reconfMu serializes Start, Reconfigure and Close.
	reconfMu sync.Mutex
	ctx      context.Context
	closed   bool

	mu      sync.RWMutex
	cfg     *config.Config
	entries map[string]*Entry
}

// NewManager validates cfg and returns a Manager that has not started any
// entry yet.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("entry: config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		entries: make(map[string]*Entry, len(cfg.Entries)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.BaseURL != "" {
		m.clientOpts = append([]timetree.Option{timetree.WithBaseURL(cfg.BaseURL)}, m.clientOpts...)
	}
	return m, nil
}

// Start sets up every configured entry: it runs a first poll and schedules
// the following ones. A failed first poll is logged and the entry keeps its
// schedule. Scheduled polls stop when ctx ends or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()

	if m.closed {
		return errors.New("entry: manager is closed")
	}
	if m.ctx != nil {
		return errors.New("entry: manager already started")
	}
	m.ctx = ctx

	m.mu.RLock()
	configured := append([]config.EntryConfig(nil), m.cfg.Entries...)
	m.mu.RUnlock()

	for _, ec := range configured {
		e, err := m.setup(ctx, ec)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.entries[ec.CalendarID] = e
		m.mu.Unlock()
	}
	appLog.Info("entries started", "count", len(configured))
	return nil
}

// Get returns the entry for calendarID.
func (m *Manager) Get(calendarID string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[calendarID]
	return e, ok
}

// List returns the running entries in configuration order.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.entries))
	for _, ec := range m.cfg.Entries {
		if e, ok := m.entries[ec.CalendarID]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Reconfigure changes the scan interval of one entry. The new value is
// validated and persisted, then the entry is torn down and rebuilt. An
// invalid interval leaves the running entry untouched.
func (m *Manager) Reconfigure(calendarID string, minutes int) (*Entry, error) {
	if _, err := refresh.ResolveInterval(minutes); err != nil {
		return nil, err
	}

	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()

	if m.ctx == nil || m.closed {
		return nil, errors.New("entry: manager is not running")
	}

	m.mu.Lock()
	old, ok := m.entries[calendarID]
	ec, found := m.cfg.Entry(calendarID)
	if !ok || !found {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, calendarID)
	}
	ec.ScanInterval = minutes
	m.cfg.UpsertEntry(ec)
	var saveErr error
	if m.configPath != "" {
		saveErr = m.cfg.Save(m.configPath)
	}
	m.mu.Unlock()

	if saveErr != nil {
		return nil, fmt.Errorf("entry: persist config: %w", saveErr)
	}

	m.teardown(old)
	e, err := m.setup(m.ctx, ec)
	if err != nil {
		m.mu.Lock()
		delete(m.entries, calendarID)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.entries[calendarID] = e
	m.mu.Unlock()

	appLog.Info("entry reconfigured", "calendar", calendarID, "scan_interval", minutes)
	return e, nil
}

// Close stops every entry. It is safe to call more than once.
func (m *Manager) Close() {
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	m.mu.Lock()
	entries := m.entries
	m.entries = map[string]*Entry{}
	m.mu.Unlock()

	for _, e := range entries {
		m.teardown(e)
	}
}

func (m *Manager) setup(ctx context.Context, ec config.EntryConfig) (*Entry, error) {
	interval, err := ec.Interval()
	if err != nil {
		return nil, err
	}

	opts := append([]timetree.Option{timetree.WithMetrics(m.metrics)}, m.clientOpts...)
	client := timetree.New(timetree.Credentials{Email: ec.Email, Password: ec.Password}, opts...)

	r, err := refresh.New(ec.CalendarID, client, interval, refresh.WithMetrics(m.metrics))
	if err != nil {
		return nil, err
	}

	if err := r.Refresh(ctx); err != nil {
		appLog.Warn("first refresh failed; will retry on schedule",
			"calendar", ec.CalendarID,
			"account", appLog.HashEmail(ec.Email),
			"err", err,
		)
	}
	if err := r.Start(ctx); err != nil {
		return nil, err
	}

	return &Entry{Config: ec, Client: client, Refresher: r}, nil
}

func (m *Manager) teardown(e *Entry) {
	if e == nil {
		return
	}
	e.Refresher.Stop()
	m.metrics.Forget(e.ID())
}
