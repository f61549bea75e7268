// Package dispatch drives the periodic delivery of due reminders.
//
// A Dispatcher polls the reminder service on a fixed interval and queues every
// returned entry for each configured Sink. Every sink has its own worker and
// bounded queue, so a slow sink never holds up polling or the other sinks.
// Delivery is at-most-once: a sink error or a full queue is logged and
// counted, and the entry is never rescheduled.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/remindq/internal/metrics"
	"github.com/snehjoshi/remindq/internal/types"
)

// DefaultQueueSize is the per-sink queue capacity used when WithQueueSize is
// not given.
const DefaultQueueSize = 256

// Poller yields the entries that are due right now.
// *reminder.Service satisfies it.
type Poller interface {
	PollDue() []types.Entry
}

// Sink receives delivered reminders.
type Sink interface {
	// Name labels the sink in logs and metrics.
	Name() string
	Deliver(ctx context.Context, e types.Entry) error
}

// Option is a functional option for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics counts every sink hand-off in reg.SinkDeliveries.
func WithMetrics(reg *metrics.Registry) Option {
	return func(d *Dispatcher) { d.metrics = reg }
}

// WithQueueSize bounds how many entries may wait for each sink. Entries that
// arrive while a sink's queue is full are dropped for that sink only.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// worker feeds one sink from its queue.
type worker struct {
	sink  Sink
	queue chan types.Entry
}

// Dispatcher owns the poll loop and one delivery worker per sink.
type Dispatcher struct {
	poller    Poller
	interval  time.Duration
	queueSize int
	log       *slog.Logger
	metrics   *metrics.Registry

	workers []*worker
	wg      sync.WaitGroup

	// deliverCtx is handed to every Sink.Deliver call and cancelled by Close.
	deliverCtx context.Context
	cancel     context.CancelFunc

	mu     sync.RWMutex // guards closed against queue sends
	closed bool
}

// New creates a Dispatcher that polls p every interval and starts one
// delivery worker per sink. Call Close to stop the workers.
func New(p Poller, sinks []Sink, interval time.Duration, opts ...Option) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	d := &Dispatcher{
		poller:    p,
		interval:  interval,
		queueSize: DefaultQueueSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.deliverCtx, d.cancel = context.WithCancel(context.Background())

	for _, s := range sinks {
		w := &worker{sink: s, queue: make(chan types.Entry, d.queueSize)}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go d.work(w)
	}
	return d
}

// Run polls until ctx is cancelled. It runs one cycle immediately so that
// entries that came due while the process was down are handled at startup.
// Run does not stop the workers; call Close after it returns.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info("dispatcher started",
		"interval", d.interval.String(),
		"sinks", len(d.workers),
		"queue_size", d.queueSize,
	)
	d.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.Once(ctx)
		}
	}
}

// Once runs a single poll cycle and returns how many entries were due. The
// batch is queued to every sink in due order without waiting for delivery.
// Once does nothing after Close or when ctx is already done, so no entry is
// drained from the service that could not be queued.
func (d *Dispatcher) Once(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0
	}

	due := d.poller.PollDue()
	for _, w := range d.workers {
		for _, e := range due {
			select {
			case w.queue <- e:
			default:
				d.overflow(w.sink, e)
			}
		}
	}
	return len(due)
}

// Close stops accepting new batches and waits for every worker to drain its
// queue. If ctx ends first, in-flight deliveries are cancelled and whatever
// is still queued is handed to the sinks with a cancelled context. Close is
// safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, w := range d.workers {
			close(w.queue)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("dispatcher close deadline reached, cancelling deliveries")
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *Dispatcher) work(w *worker) {
	defer d.wg.Done()
	for e := range w.queue {
		d.deliver(d.deliverCtx, w.sink, e)
	}
}

func (d *Dispatcher) overflow(s Sink, e types.Entry) {
	d.log.Warn("sink queue full, reminder dropped",
		"sink", s.Name(),
		"id", e.ID,
		"author_id", e.AuthorID,
		"queue_size", d.queueSize,
	)
	if d.metrics != nil {
		d.metrics.SinkDeliveries.Inc(metrics.SinkKey(s.Name(), "dropped"))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, e types.Entry) {
	result := "ok"
	if err := s.Deliver(ctx, e); err != nil {
		result = "error"
		d.log.Warn("reminder delivery failed",
			"sink", s.Name(),
			"id", e.ID,
			"author_id", e.AuthorID,
			"err", err,
		)
	}
	if d.metrics != nil {
		d.metrics.SinkDeliveries.Inc(metrics.SinkKey(s.Name(), result))
	}
}

// ─── LogSink ──────────────────────────────────────────────────────────────────

// LogSink writes every delivered reminder to a logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a LogSink. A nil logger means slog.Default().
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e types.Entry) error {
	s.log.Info("reminder due",
		"id", e.ID,
		"author_id", e.AuthorID,
		"target", e.Target,
		"at", e.Time,
		"message", e.Message,
	)
	return nil
}
