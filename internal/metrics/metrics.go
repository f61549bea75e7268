// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for remindq. It deliberately avoids the prometheus/client_golang
// package so the daemon stays small with no additional dependencies.
//
// # Counter naming convention
//
// Labelled counters use a tab-separated string as their key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	StoreFailures                  →  key = "op"
//	SinkDeliveries                 →  key = "sink\tresult"
//	HTTPReqs                       →  key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt         →  key = "method\tpath"
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all counters
// in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Get returns the current value for key.
func (lc *labelCounter) Get(key string) int64 { return lc.get(key).Load() }

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all remindq application metrics. The zero value is ready to
// use; a nil *Registry is not.
type Registry struct {
	// Reminder lifecycle counters.
	Scheduled atomic.Int64
	Delivered atomic.Int64
	Dropped   atomic.Int64

	// StoreFailures counts failed store sessions.  key = "op"
	StoreFailures labelCounter

	// SinkDeliveries counts dispatcher hand-offs.  key = "sink\tresult"
	SinkDeliveries labelCounter

	// HTTP-level counters.  key = "method\tpath\tstatus" (Reqs) or "method\tpath" (Dur*)
	HTTPReqs   labelCounter
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter // number of requests (same key as HTTPDurMs, for avg)

	pending atomic.Pointer[func() int]
}

// SetPendingFunc registers the callback used to render the pending gauge.
func (r *Registry) SetPendingFunc(fn func() int) {
	r.pending.Store(&fn)
}

// Pending returns the value of the pending gauge, or 0 if no callback is set.
func (r *Registry) Pending() int {
	if fn := r.pending.Load(); fn != nil {
		return (*fn)()
	}
	return 0
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder

		// ── reminder counters ─────────────────────────────────────────────────
		writeScalar(&b, "remindq_reminders_scheduled_total",
			"Total reminders accepted and persisted", "counter", r.Scheduled.Load())
		writeScalar(&b, "remindq_reminders_delivered_total",
			"Total reminders returned by a poll", "counter", r.Delivered.Load())
		writeScalar(&b, "remindq_reminders_dropped_total",
			"Total reminders dropped for being discovered past the grace window", "counter", r.Dropped.Load())
		writeScalar(&b, "remindq_reminders_pending",
			"Reminders currently waiting in the scheduler heap", "gauge", int64(r.Pending()))

		writeFamily(&b, "remindq_store_failures_total",
			"Total store sessions that failed to persist", "counter",
			func(fn func(labels, val string)) {
				r.StoreFailures.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`op=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "remindq_sink_deliveries_total",
			"Total reminders handed to a delivery sink, by sink and result", "counter",
			func(fn func(labels, val string)) {
				r.SinkDeliveries.Each(func(key string, val int64) {
					sink, result := splitTwo(key)
					fn(fmt.Sprintf(`sink=%q,result=%q`, sink, result), fmt.Sprintf("%d", val))
				})
			})

		// ── HTTP counters ─────────────────────────────────────────────────────
		writeFamily(&b, "remindq_http_requests_total",
			"Total HTTP requests by method, path, and status code", "counter",
			func(fn func(labels, val string)) {
				r.HTTPReqs.Each(func(key string, val int64) {
					method, path, status := splitThree(key)
					fn(fmt.Sprintf(`method=%q,path=%q,status=%q`, method, path, status),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "remindq_http_request_duration_milliseconds_sum",
			"Sum of HTTP request durations in milliseconds", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurMs.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "remindq_http_request_duration_milliseconds_count",
			"Count of observed HTTP request durations", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurCnt.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path),
						fmt.Sprintf("%d", val))
				})
			})

		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeScalar writes an unlabelled metric. Unlike writeFamily it always emits,
// so dashboards see an explicit zero.
func writeScalar(b *strings.Builder, name, help, typ string, val int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(b, "%s %d\n", name, val)
}

// writeFamily writes a single labelled Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// splitTwo splits a tab-delimited key of the form "a\tb" into (a, b).
// If there is no tab, the whole string is returned as the first component.
func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// splitThree splits a tab-delimited key "a\tb\tc" into (a, b, c).
func splitThree(key string) (string, string, string) {
	a, rest := splitTwo(key)
	b, c := splitTwo(rest)
	return a, b, c
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// SinkKey builds the label key used by SinkDeliveries.
func SinkKey(sink, result string) string {
	return sink + "\t" + result
}

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
