package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ttcal/internal/calendar"
	"ttcal/internal/config"
	"ttcal/internal/entry"
	appLog "ttcal/internal/log"
	"ttcal/internal/model"
	"ttcal/internal/timetree"
)

// Entries is the part of the entry manager the HTTP API uses.
type Entries interface {
	Get(calendarID string) (*entry.Entry, bool)
	List() []*entry.Entry
	Reconfigure(calendarID string, minutes int) (*entry.Entry, error)
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes g on /metrics. Without it /metrics is not served.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithClock overrides the clock used for default query windows.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server exposes the refresher snapshots and the create/options operations
// over HTTP.
type Server struct {
	cfg      *config.Config
	entries  Entries
	gatherer prometheus.Gatherer
	now      func() time.Time
	loc      *time.Location
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, entries Entries, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		entries: entries,
		now:     time.Now,
		loc:     cfg.Location(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ttcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /api/calendars/{id}/events", s.withEntry(s.handleEvents))
	s.mux.HandleFunc("POST /api/calendars/{id}/events", s.withEntry(s.handleCreateEvent))
	s.mux.HandleFunc("GET /api/calendars/{id}/next", s.withEntry(s.handleNext))
	s.mux.HandleFunc("GET /api/calendars/{id}/status", s.withEntry(s.handleStatus))
	s.mux.HandleFunc("PUT /api/calendars/{id}/options", s.withEntry(s.handleOptions))
	s.mux.HandleFunc("GET /api/calendars/{id}/calendar.ics", s.withEntry(s.handleICS))
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

type entryHandler func(w http.ResponseWriter, r *http.Request, e *entry.Entry)

// withEntry resolves the {id} path value to a running entry.
func (s *Server) withEntry(h entryHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		e, ok := s.entries.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "calendar not configured")
			return
		}
		h(w, r, e)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	list := s.entries.List()
	out := make([]statusDTO, 0, len(list))
	for _, e := range list {
		out = append(out, newStatusDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, e *entry.Entry) {
	writeJSON(w, http.StatusOK, newStatusDTO(e))
}

// snapshot writes 503 and returns false until the entry's first successful
// poll.
func snapshot(w http.ResponseWriter, e *entry.Entry) ([]model.Event, bool) {
	events, ok := e.Refresher.Snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "calendar data not available yet")
		return nil, false
	}
	return events, true
}

// GET /api/calendars/{id}/events?days=7&backfill=1
//   - days:     number of days ahead (default 7)
//   - backfill: number of past days to include (default 1)
//   - start/end: explicit bounds (RFC3339 or YYYY-MM-DD), overriding days/backfill
//   - expand:   1 to return recurrence-expanded occurrences
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, e *entry.Entry) {
	events, ok := snapshot(w, e)
	if !ok {
		return
	}

	q := r.URL.Query()
	rangeStart, rangeEnd, err := s.queryRange(q.Get("start"), q.Get("end"),
		parseIntDefault(q.Get("days"), 7), parseIntDefault(q.Get("backfill"), 1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := eventsResponse{
		CalendarID:      e.ID(),
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	}

	if expand, _ := strconv.ParseBool(q.Get("expand")); expand {
		res, err := calendar.Expand(events, calendar.ExpandConfig{
			CalendarID:      e.ID(),
			DisplayLocation: s.loc,
			RangeStart:      rangeStart,
			RangeEnd:        rangeEnd,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.Occurrences = make([]occurrenceDTO, 0, len(res.Occurrences))
		for _, occ := range res.Occurrences {
			resp.Occurrences = append(resp.Occurrences, newOccurrenceDTO(occ))
		}
		resp.TruncatedUIDs = res.TruncatedEvents
		writeJSON(w, http.StatusOK, resp)
		return
	}

	matched := calendar.InRange(events, rangeStart, rangeEnd)
	resp.Events = make([]eventDTO, 0, len(matched))
	for _, ev := range matched {
		resp.Events = append(resp.Events, newEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) queryRange(start, end string, days, backfill int) (time.Time, time.Time, error) {
	if days <= 0 {
		days = 7
	}
	if backfill < 0 {
		backfill = 0
	}

	today := model.DateOf(s.now().In(s.loc))
	rangeStart := today.AddDays(-backfill).In(s.loc)
	rangeEnd := today.AddDays(days).In(s.loc)

	var err error
	if start != "" {
		if rangeStart, err = parseTimeParam(start, s.loc); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start")
		}
	}
	if end != "" {
		if rangeEnd, err = parseTimeParam(end, s.loc); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end")
		}
	}
	if rangeEnd.Before(rangeStart) {
		return time.Time{}, time.Time{}, errors.New("end is before start")
	}
	return rangeStart, rangeEnd, nil
}

func (s *Server) handleNext(w http.ResponseWriter, _ *http.Request, e *entry.Entry) {
	events, ok := snapshot(w, e)
	if !ok {
		return
	}
	next, found := calendar.Next(events, s.now().In(s.loc))
	if !found {
		writeError(w, http.StatusNotFound, "no upcoming event")
		return
	}
	writeJSON(w, http.StatusOK, newEventDTO(next))
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, e *entry.Entry) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in, err := req.input(s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := e.CreateEvent(r.Context(), in)
	if err != nil {
		appLog.Error("create event failed", err, "calendar", e.ID())
		var ae *timetree.APIError
		switch {
		case timetree.IsAuthError(err):
			writeError(w, http.StatusBadGateway, "TimeTree rejected the credentials")
		case errors.As(err, &ae):
			writeError(w, http.StatusBadGateway, ae.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "TimeTree did not respond")
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	if created == nil {
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
		return
	}
	writeJSON(w, http.StatusCreated, newEventDTO(timetree.ParseEvent(*created)))
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request, e *entry.Entry) {
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.entries.Reconfigure(e.ID(), req.ScanInterval)
	if err != nil {
		if errors.Is(err, entry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "calendar not configured")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newStatusDTO(updated))
}

func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request, e *entry.Entry) {
	events, ok := snapshot(w, e)
	if !ok {
		return
	}

	stamp, _ := e.Refresher.LastSuccess()
	var buf bytes.Buffer
	if err := calendar.WriteICS(&buf, e.Name(), events, stamp); err != nil {
		appLog.Error("ics export failed", err, "calendar", e.ID())
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// parseTimeParam accepts an RFC3339 timestamp or a YYYY-MM-DD date, which
// is taken as midnight in loc.
func parseTimeParam(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, loc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
