package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snehjoshi/remindq/internal/config"
	"github.com/snehjoshi/remindq/internal/metrics"
	"github.com/snehjoshi/remindq/internal/reminder"
	"github.com/snehjoshi/remindq/internal/store"
	transphttp "github.com/snehjoshi/remindq/internal/transport/http"
	"github.com/snehjoshi/remindq/internal/transport/websocket"
	"github.com/snehjoshi/remindq/internal/types"
	"github.com/snehjoshi/remindq/pkg/client"
)

// ─── test server helpers ──────────────────────────────────────────────────────

type testEnv struct {
	c       *client.Client
	backend *store.MemoryBackend
	hub     *websocket.Hub
	url     string
}

// newTestEnv spins up a real remindq stack (service + HTTP) backed by
// httptest.Server. All resources are cleaned up in t.Cleanup.
func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.RateLimit.Enabled = false
	for _, m := range mutate {
		m(cfg)
	}

	b := store.NewMemoryBackend()
	st, err := store.Open("test", b)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := &metrics.Registry{}
	svc := reminder.New(st, reminder.WithLogger(quiet), reminder.WithMetrics(reg))
	if err := svc.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	hub := websocket.NewHub(websocket.WithLogger(quiet))
	t.Cleanup(hub.Close)

	srv := transphttp.New(svc, hub, cfg, reg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{c: client.New(ts.URL + "/"), backend: b, hub: hub, url: ts.URL}
}

// ─── Schedule / List ─────────────────────────────────────────────────────────

func TestClient_ScheduleAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	at := time.Now().Add(time.Hour).Truncate(time.Second).UTC()

	r, err := env.c.Schedule(ctx, client.ScheduleRequest{AuthorID: 7, Time: at, Message: "one", Target: "chan"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if r.ID == "" || r.AuthorID != 7 || !r.Time.Equal(at) || r.Target != "chan" {
		t.Fatalf("unexpected reminder %+v", r)
	}

	if _, err := env.c.Schedule(ctx, client.ScheduleRequest{AuthorID: 8, Delay: 30 * time.Minute, Message: "two"}); err != nil {
		t.Fatalf("Schedule with delay: %v", err)
	}

	all, err := env.c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Message != "two" || all[1].Message != "one" {
		t.Fatalf("List = %+v, want [two one] by due time", all)
	}

	mine, err := env.c.ListForAuthor(ctx, 7)
	if err != nil {
		t.Fatalf("ListForAuthor: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != r.ID {
		t.Fatalf("ListForAuthor = %+v", mine)
	}
}

func TestClient_Health(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.Pending != 0 || !h.NextDue.IsZero() {
		t.Fatalf("unexpected health %+v", h)
	}

	at := time.Now().Add(time.Hour).UTC()
	if _, err := env.c.Schedule(ctx, client.ScheduleRequest{AuthorID: 1, Time: at, Message: "x"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	h, err = env.c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Pending != 1 || !h.NextDue.Equal(at) {
		t.Fatalf("health after schedule = %+v", h)
	}
}

// ─── Errors ──────────────────────────────────────────────────────────────────

func TestClient_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.c.Schedule(context.Background(), client.ScheduleRequest{AuthorID: 1, Delay: time.Minute})
	if !client.IsInvalid(err) {
		t.Fatalf("want IsInvalid, got %v", err)
	}
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.Message == "" {
		t.Fatalf("want *APIError with a message, got %v", err)
	}
}

func TestClient_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.backend.FailSave(errors.New("disk full"))

	_, err := env.c.Schedule(context.Background(), client.ScheduleRequest{AuthorID: 1, Delay: time.Minute, Message: "x"})
	if !client.IsUnavailable(err) {
		t.Fatalf("want IsUnavailable, got %v", err)
	}
}

func TestClient_NotFound(t *testing.T) {
	env := newTestEnv(t)
	c := client.New(env.url + "/nope")
	if _, err := c.List(context.Background()); !client.IsNotFound(err) {
		t.Fatalf("want IsNotFound, got %v", err)
	}
}

func TestClient_APIKey(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "k"
	})
	ctx := context.Background()

	if _, err := env.c.List(ctx); err == nil {
		t.Fatal("expected 401 without key")
	}
	authed := client.New(env.url, client.WithAPIKey("k"), client.WithTimeout(5*time.Second))
	if _, err := authed.List(ctx); err != nil {
		t.Fatalf("List with key: %v", err)
	}
}

// ─── Watch ───────────────────────────────────────────────────────────────────

func TestClient_Watch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan client.Reminder, 4)
	done := make(chan error, 1)
	go func() {
		done <- env.c.Watch(ctx, func(r client.Reminder) { got <- r }, client.WatchAuthor(9))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = env.hub.Deliver(ctx, types.Entry{ID: "skip", AuthorID: 1, Message: "not mine"})
	_ = env.hub.Deliver(ctx, types.Entry{ID: "r9", AuthorID: 9, Message: "mine"})

	select {
	case r := <-got:
		if r.ID != "r9" || r.Message != "mine" {
			t.Fatalf("unexpected reminder %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reminder received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestClient_WatchRejectedCarriesServerError(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "k"
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := env.c.Watch(ctx, func(client.Reminder) {})
	var ae *client.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("want *APIError, got %v", err)
	}
	if ae.StatusCode != 401 || ae.Message != "unauthorized" {
		t.Fatalf("APIError = %+v, want 401 unauthorized", ae)
	}
}
