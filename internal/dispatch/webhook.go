package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snehjoshi/remindq/internal/types"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the sink
// has a secret, formatted as "sha256=<hex>".
const SignatureHeader = "X-Remindq-Signature"

// webhookPayload is the JSON body POSTed to the webhook URL.
type webhookPayload struct {
	ID          string    `json:"id"`
	AuthorID    uint64    `json:"author_id"`
	Time        time.Time `json:"time"`
	Message     string    `json:"message"`
	Target      string    `json:"target,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithRetryDelays sets the waits between attempts. len(delays)+1 attempts are
// made in total.
func WithRetryDelays(delays []time.Duration) WebhookOption {
	return func(s *WebhookSink) { s.delays = delays }
}

// WithHTTPClient replaces the default client. The client is used as given
// and never modified; nil keeps the default.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithTimeout bounds each POST attempt. It applies through the request
// context, so it also holds for a client set with WithHTTPClient. Zero
// disables the bound. The default is 10 seconds.
func WithTimeout(d time.Duration) WebhookOption {
	return func(s *WebhookSink) { s.timeout = d }
}

// WebhookSink POSTs each reminder as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	secret string
	client  *http.Client
	timeout time.Duration
	delays  []time.Duration
}

// NewWebhookSink returns a sink posting to url. An empty secret disables
// request signing.
func NewWebhookSink(url, secret string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:     url,
		secret:  secret,
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	return s
}

func (s *WebhookSink) Name() string { return "webhook" }

// Deliver posts e, retrying on the configured delays until an attempt
// succeeds or ctx is done. It returns the last attempt's error.
func (s *WebhookSink) Deliver(ctx context.Context, e types.Entry) error {
	body, err := json.Marshal(webhookPayload{
		ID:          e.ID,
		AuthorID:    e.AuthorID,
		Time:        e.Time,
		Message:     e.Message,
		Target:      e.Target,
		CreatedAt:   e.CreatedAt,
		DeliveredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	err = s.post(ctx, body)
	for _, delay := range s.delays {
		if err == nil {
			return nil
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("webhook: %w (last error: %w)", ctx.Err(), err)
		case <-t.C:
		}
		err = s.post(ctx, body)
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: POST to %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature of body. Receivers use it
// to authenticate webhook calls.
func Verify(secret string, body []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(sig))
}
