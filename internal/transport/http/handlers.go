package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/snehjoshi/remindq/internal/reminder"
	"github.com/snehjoshi/remindq/internal/types"
)

// Handler groups all HTTP request handlers around a reminder.Service.
type Handler struct {
	svc    *reminder.Service
	driver string
	now    func() time.Time
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

// scheduleReq is the body of POST /reminders. Exactly one of Time and
// DelayMs must be set.
type scheduleReq struct {
	AuthorID uint64 `json:"author_id"`
	Time     string `json:"time"`     // RFC 3339
	DelayMs  *int64 `json:"delay_ms"` // relative to receipt
	Message  string `json:"message"`
	Target   string `json:"target"`
}

type listResp struct {
	Reminders []types.Entry `json:"reminders"`
	Count     int           `json:"count"`
}

type healthResp struct {
	Status   string     `json:"status"`
	Pending  int        `json:"pending"`
	NextDue  *time.Time `json:"next_due,omitempty"`
	Store    string     `json:"store"`
	Uptime   string     `json:"uptime"`
	UptimeMs int64      `json:"uptime_ms"`
	Version  string     `json:"version"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	resp := healthResp{
		Status:   "ok",
		Pending:  h.svc.Pending(),
		Store:    h.driver,
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  "1.0.0",
	}
	if next, ok := h.svc.NextDue(); ok {
		resp.NextDue = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Reminders ────────────────────────────────────────────────────────────────

// maxDelayMs is the largest delay_ms that still fits in a time.Duration.
const maxDelayMs = math.MaxInt64 / int64(time.Millisecond)

func (h *Handler) createReminder(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if !decodeJSON(w, r, &req) {
		return
	}

	var at time.Time
	switch {
	case req.Time != "" && req.DelayMs != nil:
		writeError(w, http.StatusBadRequest, errors.New("set either time or delay_ms, not both"))
		return
	case req.Time != "":
		t, err := time.Parse(time.RFC3339Nano, req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("time must be RFC 3339: %w", err))
			return
		}
		at = t
	case req.DelayMs != nil:
		if *req.DelayMs < 0 {
			writeError(w, http.StatusBadRequest, errors.New("delay_ms must be >= 0"))
			return
		}
		if *req.DelayMs > maxDelayMs {
			writeError(w, http.StatusBadRequest, fmt.Errorf("delay_ms must be <= %d", maxDelayMs))
			return
		}
		at = h.now().Add(time.Duration(*req.DelayMs) * time.Millisecond)
	default:
		writeError(w, http.StatusBadRequest, errors.New("time or delay_ms is required"))
		return
	}

	e, err := h.svc.Schedule(reminder.Request{
		AuthorID: req.AuthorID,
		Time:     at,
		Message:  req.Message,
		Target:   req.Target,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/authors/"+strconv.FormatUint(e.AuthorID, 10)+"/reminders")
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request) {
	var (
		entries []types.Entry
		err     error
	)
	if v := r.URL.Query().Get("author_id"); v != "" {
		id, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, errors.New("author_id must be an unsigned integer"))
			return
		}
		entries, err = h.svc.ForAuthor(id)
	} else {
		entries, err = h.svc.All()
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp{Reminders: entries, Count: len(entries)})
}

func (h *Handler) authorReminders(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("author id must be an unsigned integer"))
		return
	}
	entries, err := h.svc.ForAuthor(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp{Reminders: entries, Count: len(entries)})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeServiceError maps reminder errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrInvalid):
		writeError(w, http.StatusBadRequest, err)
	case reminder.Retryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, reminder.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
