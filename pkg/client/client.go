// Package client is the Go SDK for the remindq HTTP API.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Remind author 42 in an hour
//	r, err := c.Schedule(ctx, client.ScheduleRequest{
//	    AuthorID: 42,
//	    Delay:    time.Hour,
//	    Message:  "stand-up",
//	})
//
//	// Everything author 42 has pending
//	rs, err := c.ListForAuthor(ctx, 42)
//
//	// Stream reminders as they fire
//	err = c.Watch(ctx, func(r client.Reminder) { ... }, client.WatchAuthor(42))
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. IsInvalid, IsUnavailable and IsNotFound classify it.
//
// Client is safe for concurrent use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remindq: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsInvalid reports whether the server rejected the request as malformed.
func IsInvalid(err error) bool {
	return hasStatus(err, http.StatusBadRequest)
}

// IsUnavailable reports whether the server could not persist the request.
// Such requests are safe to retry.
func IsUnavailable(err error) bool {
	return hasStatus(err, http.StatusServiceUnavailable)
}

func hasStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the remindq API client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client for the server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("https://remindq.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Types ────────────────────────────────────────────────────────────────────

// Reminder is one scheduled reminder as returned by the server.
type Reminder struct {
	ID        string    `json:"id"`
	AuthorID  uint64    `json:"author_id"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleRequest describes a reminder to create. Set Time for an absolute
// due time or Delay for one relative to the server's receipt of the request.
type ScheduleRequest struct {
	AuthorID uint64
	Time     time.Time
	Delay    time.Duration
	Message  string
	Target   string
}

// HealthInfo is the decoded /health response.
type HealthInfo struct {
	Status  string
	Pending int
	NextDue time.Time // zero when nothing is pending
	Store   string
	Uptime  time.Duration
	Version string
}

// ─── Reminders ────────────────────────────────────────────────────────────────

// Schedule creates a reminder and returns it with its server-assigned ID.
func (c *Client) Schedule(ctx context.Context, req ScheduleRequest) (*Reminder, error) {
	p := schedulePayload{
		AuthorID: req.AuthorID,
		Message:  req.Message,
		Target:   req.Target,
	}
	if !req.Time.IsZero() {
		p.Time = req.Time.UTC().Format(time.RFC3339Nano)
	} else {
		ms := req.Delay.Milliseconds()
		p.DelayMs = &ms
	}

	var r Reminder
	if err := c.do(ctx, http.MethodPost, "/reminders", p, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns every pending reminder ordered by due time.
func (c *Client) List(ctx context.Context) ([]Reminder, error) {
	return c.list(ctx, "/reminders")
}

// ListForAuthor returns authorID's pending reminders ordered by due time.
func (c *Client) ListForAuthor(ctx context.Context, authorID uint64) ([]Reminder, error) {
	return c.list(ctx, "/authors/"+strconv.FormatUint(authorID, 10)+"/reminders")
}

func (c *Client) list(ctx context.Context, path string) ([]Reminder, error) {
	var resp struct {
		Reminders []Reminder `json:"reminders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reminders, nil
}

// Health checks the server's /health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string     `json:"status"`
		Pending  int        `json:"pending"`
		NextDue  *time.Time `json:"next_due"`
		Store    string     `json:"store"`
		UptimeMs int64      `json:"uptime_ms"`
		Version  string     `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	h := &HealthInfo{
		Status:  resp.Status,
		Pending: resp.Pending,
		Store:   resp.Store,
		Uptime:  time.Duration(resp.UptimeMs) * time.Millisecond,
		Version: resp.Version,
	}
	if resp.NextDue != nil {
		h.NextDue = *resp.NextDue
	}
	return h, nil
}

// ─── Live feed ────────────────────────────────────────────────────────────────

// WatchOption configures Watch.
type WatchOption func(url.Values)

// WatchAuthor restricts the feed to one author's reminders.
func WatchAuthor(authorID uint64) WatchOption {
	return func(q url.Values) { q.Set("author_id", strconv.FormatUint(authorID, 10)) }
}

// Watch opens the /ws feed and calls fn for every reminder the server
// delivers. It blocks until ctx is done (returning nil) or the connection
// fails.
func (c *Client) Watch(ctx context.Context, fn func(Reminder), opts ...WatchOption) error {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return fmt.Errorf("remindq: parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	for _, o := range opts {
		o(q)
	}
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	if c.apiKey != "" {
		hdr.Set("X-Api-Key", c.apiKey)
	}
	conn, resp, err := gorillaws.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return apiError(resp.StatusCode, body)
		}
		return fmt.Errorf("remindq: dial %s: %w", u.Redacted(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var f struct {
			Type string `json:"type"`
			Reminder
		}
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("remindq: read frame: %w", err)
		}
		if f.Type == "reminder" {
			fn(f.Reminder)
		}
	}
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remindq: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("remindq: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remindq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("remindq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return apiError(httpResp.StatusCode, respBody)
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("remindq: decode response: %w", err)
		}
	}
	return nil
}

// apiError builds an *APIError from a non-2xx response, using the "error"
// field of a JSON body when there is one.
func apiError(code int, body []byte) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Error
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &APIError{StatusCode: code, Message: msg}
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type schedulePayload struct {
	AuthorID uint64 `json:"author_id"`
	Time     string `json:"time,omitempty"`
	DelayMs  *int64 `json:"delay_ms,omitempty"`
	Message  string `json:"message"`
	Target   string `json:"target,omitempty"`
}
