// Package timetree is a client for the private JSON API used by the TimeTree
// web app. It signs in with email and password, keeps the resulting session
// cookie, and transparently signs in again once when the session expires.
package timetree

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "ttcal/internal/log"
	"ttcal/internal/metrics"
	"ttcal/internal/model"
)

const (
	DefaultBaseURL   = "https://timetreeapp.com/api/v1"
	DefaultUserAgent = "web/2.1.0/en"

	agentHeader   = "X-Timetreea"
	sessionCookie = "_session_id"

	defaultLoginTimeout   = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Client talks to the TimeTree API on behalf of one account.
//
// Calls are serialized: a Client may be shared between a refresher and
// request handlers, but only one API operation runs at a time.
type Client struct {
	baseURL      string
	userAgent    string
	creds        Credentials
	httpClient   *http.Client
	loginTimeout time.Duration
	metrics      *metrics.Metrics
	newUUID      func() string

	mu      sync.Mutex
	session string
}

// Option configures Client behavior.
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if agent != "" {
			c.userAgent = agent
		}
	}
}

// WithLoginTimeout bounds the sign-in request.
func WithLoginTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.loginTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a Client. No request is made until the first call.
func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		userAgent:    DefaultUserAgent,
		creds:        creds,
		httpClient:   &http.Client{Timeout: defaultRequestTimeout},
		loginTimeout: defaultLoginTimeout,
		newUUID:      newDeviceUUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login signs in and stores the session. It always authenticates again,
// even if a session is already held.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// HasSession reports whether a session token is currently held.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != ""
}

// ListCalendars returns the account's active calendars in service order.
// Deactivated calendars are left out.
func (c *Client) ListCalendars(ctx context.Context) ([]Calendar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Calendar
	since := "0"
	for {
		var page calendarsPage
		err := c.getJSON(ctx, request{
			op:    "list calendars",
			path:  "/calendars",
			query: url.Values{"since": {since}},
		}, &page)
		if err != nil {
			return nil, err
		}

		for _, rec := range page.Calendars {
			if rec.deactivated() {
				continue
			}
			out = append(out, Calendar{ID: rec.ID, Name: rec.Name, AliasCode: rec.AliasCode})
		}

		if !page.Chunk {
			break
		}
		next, err := nextCursor(since, page.Since)
		if err != nil {
			return nil, fmt.Errorf("timetree: list calendars: %w", err)
		}
		since = next
	}

	appLog.Debug("timetree calendars listed", "count", len(out))
	return out, nil
}

// SyncEvents fetches every event of a calendar, following the chunked sync
// feed until the service reports no further chunk. Events are returned in
// page arrival order.
func (c *Client) SyncEvents(ctx context.Context, calendarID string) ([]RawEvent, error) {
	if calendarID == "" {
		return nil, errors.New("timetree: calendar id is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := "/calendar/" + url.PathEscape(calendarID) + "/events/sync"

	var (
		events []RawEvent
		since  string
		pages  int
	)
	for {
		req := request{op: "sync events", path: path}
		if since != "" {
			req.query = url.Values{"since": {since}}
		}

		var page syncPage
		if err := c.getJSON(ctx, req, &page); err != nil {
			return nil, err
		}
		pages++
		events = append(events, page.Events...)

		if !page.Chunk {
			break
		}
		next, err := nextCursor(since, page.Since)
		if err != nil {
			return nil, fmt.Errorf("timetree: sync events: %w", err)
		}
		since = next
	}

	appLog.Debug("timetree events synced", "calendar", calendarID, "pages", pages, "events", len(events))
	return events, nil
}

// CreateEvent adds an event to a calendar and returns the stored record when
// the service echoes it back.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, in EventInput) (*RawEvent, error) {
	if calendarID == "" {
		return nil, errors.New("timetree: calendar id is empty")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("timetree: event title is required")
	}
	if in.End.Before(in.Start) {
		return nil, errors.New("timetree: event ends before it starts")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(c.newEventRequest(in))
	if err != nil {
		return nil, err
	}

	res, err := c.call(ctx, request{
		op:     "create event",
		method: http.MethodPost,
		path:   "/calendar/" + url.PathEscape(calendarID) + "/event",
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK && res.status != http.StatusCreated {
		return nil, &APIError{Op: "create event", StatusCode: res.status, Body: string(res.body)}
	}

	appLog.Info("timetree event created", "calendar", calendarID)

	if len(bytes.TrimSpace(res.body)) == 0 {
		return nil, nil
	}
	var created createEventResponse
	if err := json.Unmarshal(res.body, &created); err != nil {
		return nil, fmt.Errorf("timetree: create event: decode response: %w", err)
	}
	return created.Event, nil
}

func (c *Client) newEventRequest(in EventInput) createEventRequest {
	req := createEventRequest{
		Type:     eventTypeNormal,
		Category: eventCategorySchedule,
		Title:    in.Title,
		Note:     in.Note,
		Location: in.Location,
		AllDay:   in.AllDay,
		UUID:     c.newUUID(),
	}

	if in.AllDay {
		req.StartAt = model.DateOf(in.Start).In(time.UTC).UnixMilli()
		req.EndAt = model.DateOf(in.End).In(time.UTC).UnixMilli()
		req.StartTimezone = "UTC"
		req.EndTimezone = "UTC"
		return req
	}

	req.StartAt = in.Start.UnixMilli()
	req.EndAt = in.End.UnixMilli()
	req.StartTimezone = zoneName(in.StartTimezone, in.Start)
	req.EndTimezone = zoneName(in.EndTimezone, in.End)
	return req
}

// login must be called with c.mu held.
func (c *Client) login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	payload, err := json.Marshal(signinRequest{
		UID:      c.creds.Email,
		Password: c.creds.Password,
		UUID:     c.newUUID(),
	})
	if err != nil {
		return &AuthError{Reason: "encode credentials", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/auth/email/signin", bytes.NewReader(payload))
	if err != nil {
		return &AuthError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(agentHeader, c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRequest("login", 0, time.Since(start))
		c.metrics.RecordLogin(false)
		return &AuthError{Reason: "connection error", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	c.metrics.RecordRequest("login", resp.StatusCode, time.Since(start))
	if err != nil {
		c.metrics.RecordLogin(false)
		return &AuthError{Reason: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordLogin(false)
		appLog.Error("timetree login failed", errors.New(resp.Status),
			"account", appLog.HashEmail(c.creds.Email), "body", truncateBody(body))
		return &AuthError{Reason: "invalid credentials"}
	}

	var session string
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie && ck.Value != "" {
			session = ck.Value
		}
	}
	if session == "" {
		c.metrics.RecordLogin(false)
		return &AuthError{Reason: "no session cookie in sign-in response"}
	}

	c.session = session
	c.metrics.RecordLogin(true)
	appLog.Info("timetree login succeeded", "account", appLog.HashEmail(c.creds.Email))
	return nil
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   []byte
}

type response struct {
	status int
	body   []byte
}

// call sends req with the current session, signing in first if none is held.
// A 401 answer triggers exactly one new sign-in and one more attempt; the
// second answer is returned whatever its status.
func (c *Client) call(ctx context.Context, req request) (response, error) {
	if c.session == "" {
		if err := c.login(ctx); err != nil {
			return response{}, err
		}
	}

	res, err := c.send(ctx, req)
	if err != nil || res.status != http.StatusUnauthorized {
		return res, err
	}

	appLog.Info("timetree session expired; signing in again", "operation", req.op)
	if err := c.login(ctx); err != nil {
		return response{}, err
	}
	return c.send(ctx, req)
}

// getJSON performs a GET through call and decodes a 2xx body into dest.
func (c *Client) getJSON(ctx context.Context, req request, dest any) error {
	req.method = http.MethodGet
	res, err := c.call(ctx, req)
	if err != nil {
		return err
	}
	if res.status < 200 || res.status >= 300 {
		return &APIError{Op: req.op, StatusCode: res.status, Body: truncateBody(res.body)}
	}
	if err := json.Unmarshal(res.body, dest); err != nil {
		return fmt.Errorf("timetree: %s: decode response: %w", req.op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request) (response, error) {
	fullURL := c.baseURL + req.path
	if len(req.query) > 0 {
		fullURL += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, body)
	if err != nil {
		return response{}, err
	}
	httpReq.Header.Set(agentHeader, c.userAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordRequest(req.op, 0, time.Since(start))
		return response{}, fmt.Errorf("timetree: %s: %w", req.op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	c.metrics.RecordRequest(req.op, resp.StatusCode, time.Since(start))
	if err != nil {
		return response{}, fmt.Errorf("timetree: %s: read body: %w", req.op, err)
	}

	appLog.Debug("timetree request", "operation", req.op, "method", req.method, "path", req.path, "status", resp.StatusCode)
	return response{status: resp.StatusCode, body: b}, nil
}

// nextCursor validates the continuation cursor of a chunked page.
func nextCursor(prev string, got json.Number) (string, error) {
	next := got.String()
	if next == "" {
		return "", errors.New("chunked page without since cursor")
	}
	if next == prev {
		return "", fmt.Errorf("since cursor %s did not advance", next)
	}
	return next, nil
}

func zoneName(explicit string, t time.Time) string {
	if explicit != "" {
		return explicit
	}
	name := t.Location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

// newDeviceUUID returns a random UUID as 32 hex characters without dashes.
func newDeviceUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
