// Package reminder is the central orchestrator for remindq.
//
// All application code (HTTP handlers, the dispatcher) talks to the Service,
// never directly to the store or the scheduler. The Service keeps the two in
// step:
//
//	Schedule → store.Update (append, full rewrite) → scheduler.Push
//	PollDue  → scheduler.PopDue → store.Update (remove) → grace-window filter
//
// The store lock and the scheduler lock are never held at the same time.
package reminder

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snehjoshi/remindq/internal/ids"
	"github.com/snehjoshi/remindq/internal/metrics"
	"github.com/snehjoshi/remindq/internal/scheduler"
	"github.com/snehjoshi/remindq/internal/store"
	"github.com/snehjoshi/remindq/internal/types"
)

// GraceWindow is how late a due entry may be discovered and still be
// delivered. Entries found later than this are removed and dropped.
const GraceWindow = 10 * time.Second

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrLoad means the persisted reminders could not be read at startup.
	// The service cannot run without a known initial state.
	ErrLoad = errors.New("reminder: load failed")

	// ErrPersist means a schedule request could not be written to the store.
	// Nothing was scheduled; the caller may retry.
	ErrPersist = errors.New("reminder: persist failed")

	// ErrInvalid means the request was rejected before touching the store.
	ErrInvalid = errors.New("reminder: invalid request")

	// ErrNotInitialized is returned when an operation runs before Initialize.
	ErrNotInitialized = errors.New("reminder: service not initialized")

	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("reminder: service already initialized")
)

// Retryable reports whether err is a transient failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersist)
}

// ─── Request ──────────────────────────────────────────────────────────────────

// Request carries everything needed to schedule one reminder.
type Request struct {
	AuthorID uint64
	Time     time.Time
	Message  string
	Target   string
}

// ─── Options ──────────────────────────────────────────────────────────────────

// Clock returns the current instant. Tests replace it to control time.
type Clock func() time.Time

// Option is a functional option for the Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(s *Service) { s.now = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics attaches a metrics.Registry so that every schedule, delivery and
// drop increments the relevant counter.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Service) { s.metrics = reg }
}

// WithMaxMessageBytes rejects messages longer than n bytes. 0 disables the check.
func WithMaxMessageBytes(n int) Option {
	return func(s *Service) { s.maxMessageBytes = n }
}

// WithMaxScheduleAhead rejects reminders due further than d in the future.
// 0 disables the check.
func WithMaxScheduleAhead(d time.Duration) Option {
	return func(s *Service) { s.maxAhead = d }
}

// ─── Service ──────────────────────────────────────────────────────────────────

// Service owns the durable store and the in-memory scheduler for one process.
//
// All methods are safe for concurrent use.
type Service struct {
	store *store.Store
	sched *scheduler.Scheduler

	now     Clock
	log     *slog.Logger
	metrics *metrics.Registry

	maxMessageBytes int
	maxAhead        time.Duration

	initMu      sync.Mutex
	initialized atomic.Bool
}

// New creates a Service over st. Call Initialize before anything else.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		sched: scheduler.New(32),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics != nil {
		s.metrics.SetPendingFunc(s.sched.Len)
	}
	return s
}

// Initialize loads every persisted entry and seeds the scheduler with it.
// It must complete before any other operation. A load failure wraps ErrLoad.
func (s *Service) Initialize() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized.Load() {
		return ErrAlreadyInitialized
	}

	entries, err := store.Query(s.store, func(entries []types.Entry) []types.Entry {
		return append([]types.Entry(nil), entries...)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}

	now := s.now()
	overdue := 0
	for _, e := range entries {
		if e.IsDue(now) {
			overdue++
		}
		s.sched.Push(e)
	}
	s.initialized.Store(true)

	s.log.Info("reminders loaded",
		"store", s.store.Name(),
		"count", len(entries),
		"overdue", overdue,
	)
	return nil
}

// Schedule persists a new reminder and, once it is durable, adds it to the
// scheduler. It returns the stored entry.
//
// On a persistence failure the error wraps ErrPersist, the scheduler is left
// untouched and the store's collection is reverted in the same session, so
// no reader or later write ever sees the entry.
func (s *Service) Schedule(req Request) (types.Entry, error) {
	if !s.initialized.Load() {
		return types.Entry{}, ErrNotInitialized
	}

	now := s.now()
	if err := s.validate(req, now); err != nil {
		return types.Entry{}, err
	}

	id, err := ids.NewAt(now)
	if err != nil {
		return types.Entry{}, fmt.Errorf("reminder: schedule: %w", err)
	}
	e := types.Entry{
		ID:        id,
		AuthorID:  req.AuthorID,
		Time:      req.Time.UTC(),
		Message:   req.Message,
		Target:    req.Target,
		CreatedAt: now.UTC(),
	}

	err = s.store.UpdateOrRevert(func(entries *[]types.Entry) error {
		*entries = append(*entries, e)
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrPersist) {
			return types.Entry{}, fmt.Errorf("reminder: schedule: %w", err)
		}
		s.storeFailed("schedule")
		s.log.Warn("reminder not scheduled", "author_id", req.AuthorID, "err", err)
		return types.Entry{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.sched.Push(e)
	if s.metrics != nil {
		s.metrics.Scheduled.Add(1)
	}
	s.log.Debug("reminder scheduled", "id", e.ID, "author_id", e.AuthorID, "at", e.Time)
	return e, nil
}

// PollDue drains every entry whose time has come, removes the drained entries
// from the store, and returns those discovered within GraceWindow of their due
// time. Later ones are dropped. The result is never nil.
//
// A failure to remove entries from the store is logged and swallowed: the
// entries have already left the scheduler and are not put back, so they are
// never handed out twice.
func (s *Service) PollDue() []types.Entry {
	now := s.now()

	due := s.sched.PopDue(now)
	if len(due) == 0 {
		return []types.Entry{}
	}

	drained := make(map[string]struct{}, len(due))
	for _, e := range due {
		drained[e.ID] = struct{}{}
	}
	err := s.store.Update(func(entries *[]types.Entry) error {
		if removed := store.RemoveByID(entries, drained); removed != len(drained) {
			s.log.Warn("due reminders missing from store",
				"drained", len(drained),
				"removed", removed,
			)
		}
		return nil
	})
	if err != nil {
		s.storeFailed("remove")
		s.log.Error("failed to remove due reminders from store",
			"count", len(due),
			"err", err,
		)
	}

	out := make([]types.Entry, 0, len(due))
	dropped := 0
	for _, e := range due {
		if late := e.Lateness(now); late > GraceWindow {
			dropped++
			s.log.Warn("dropping stale reminder",
				"id", e.ID,
				"author_id", e.AuthorID,
				"late", late.String(),
			)
			continue
		}
		out = append(out, e)
	}

	if s.metrics != nil {
		s.metrics.Delivered.Add(int64(len(out)))
		s.metrics.Dropped.Add(int64(dropped))
	}
	return out
}

// All returns every persisted entry sorted by due time. It does not touch the
// scheduler.
func (s *Service) All() ([]types.Entry, error) {
	return s.query(func(types.Entry) bool { return true })
}

// ForAuthor returns the persisted entries created by authorID, sorted by due
// time.
func (s *Service) ForAuthor(authorID uint64) ([]types.Entry, error) {
	return s.query(func(e types.Entry) bool { return e.AuthorID == authorID })
}

func (s *Service) query(keep func(types.Entry) bool) ([]types.Entry, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	out, err := store.Query(s.store, func(entries []types.Entry) []types.Entry {
		out := make([]types.Entry, 0, len(entries))
		for _, e := range entries {
			if keep(e) {
				out = append(out, e)
			}
		}
		return out
	})
	if err != nil {
		return nil, fmt.Errorf("reminder: query: %w", err)
	}
	sortEntries(out)
	return out, nil
}

// Pending returns the number of entries waiting in the scheduler.
func (s *Service) Pending() int { return s.sched.Len() }

// NextDue returns the due time of the soonest pending entry.
func (s *Service) NextDue() (time.Time, bool) {
	e, ok := s.sched.Peek()
	if !ok {
		return time.Time{}, false
	}
	return e.Time, true
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func (s *Service) validate(req Request, now time.Time) error {
	if req.Time.IsZero() {
		return fmt.Errorf("%w: time is required", ErrInvalid)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message must not be empty", ErrInvalid)
	}
	if s.maxMessageBytes > 0 && len(req.Message) > s.maxMessageBytes {
		return fmt.Errorf("%w: message too long (max %d bytes)", ErrInvalid, s.maxMessageBytes)
	}
	if now.Sub(req.Time) > GraceWindow {
		return fmt.Errorf("%w: time is more than %s in the past", ErrInvalid, GraceWindow)
	}
	if s.maxAhead > 0 && req.Time.Sub(now) > s.maxAhead {
		return fmt.Errorf("%w: time is more than %s ahead", ErrInvalid, s.maxAhead)
	}
	return nil
}

func (s *Service) storeFailed(op string) {
	if s.metrics != nil {
		s.metrics.StoreFailures.Inc(op)
	}
}

func sortEntries(entries []types.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Time.Equal(entries[j].Time) {
			return entries[i].Time.Before(entries[j].Time)
		}
		return entries[i].ID < entries[j].ID
	})
}
