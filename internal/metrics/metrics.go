// Package metrics collects ambient, Prometheus-exposition-format
// counters and gauges for a dmq server. It is not part of the wire
// protocol: nothing here is load-bearing for §4-§8's correctness
// properties, matching the teacher's split between its HTTP metrics
// middleware and the application it instruments.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sadewadee/dmq/internal/closereason"
	"github.com/sadewadee/dmq/internal/postmaster"
)

// Registry accumulates MQ-domain counters and gauges. The zero value is
// not usable; construct with New. Registry implements session.Sink.
type Registry struct {
	startTime time.Time

	sessionsOpened atomic.Int64
	sessionsClosed atomic.Int64
	sessionsActive atomic.Int64
	closeReasons   [int(closereason.TimeOut) + 1]atomic.Int64

	bytesRead        atomic.Int64
	messagesEnqueued atomic.Int64
	framesEnqueued   atomic.Int64

	pm  *postmaster.Postmaster
	rpc RPCStats
}

// RPCStats reports the live counters an *rpc.Endpoint already tracks;
// satisfied by *rpc.Endpoint without an import cycle (rpc does not
// depend on metrics).
type RPCStats interface {
	PendingCalls() int
}

// New creates a Registry. pm and rpc may be nil if those subsystems are
// not yet constructed when the registry is wired up (e.g. a client that
// never runs a postmaster-backed listener); Set* lets a caller attach
// them later.
func New(pm *postmaster.Postmaster, rpc RPCStats) *Registry {
	return &Registry{startTime: time.Now(), pm: pm, rpc: rpc}
}

// SetRPCStats attaches the RPC endpoint whose wait-table size and
// in-flight call count should be reported. Safe to call once before the
// registry is served.
func (r *Registry) SetRPCStats(rpc RPCStats) { r.rpc = rpc }

// SetPostmaster attaches the shared scheduler whose reader/writer
// worker counts should be reported.
func (r *Registry) SetPostmaster(pm *postmaster.Postmaster) { r.pm = pm }

// Sink implementation (session.Sink) --------------------------------

func (r *Registry) SessionOpened() {
	r.sessionsOpened.Add(1)
	r.sessionsActive.Add(1)
}

func (r *Registry) SessionClosed(reason closereason.Reason) {
	r.sessionsClosed.Add(1)
	r.sessionsActive.Add(-1)
	if int(reason) < len(r.closeReasons) {
		r.closeReasons[reason].Add(1)
	}
}

func (r *Registry) BytesRead(n int) {
	r.bytesRead.Add(int64(n))
}

func (r *Registry) MessageEnqueued(frameCount int) {
	r.messagesEnqueued.Add(1)
	r.framesEnqueued.Add(int64(frameCount))
}

// HTTP handlers -------------------------------------------------------

// ServeHTTP renders the registry in Prometheus text exposition format,
// grounded in the teacher's metrics middleware but re-pointed at MQ
// counters instead of HTTP request counters.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder

	gauge := func(name, help string, v int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
	}
	counter := func(name, help string, v int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}

	counter("dmq_sessions_opened_total", "Total sessions accepted or dialed.", r.sessionsOpened.Load())
	counter("dmq_sessions_closed_total", "Total sessions closed.", r.sessionsClosed.Load())
	gauge("dmq_sessions_active", "Sessions currently connected.", r.sessionsActive.Load())

	for reason := closereason.Unknown; int(reason) < len(r.closeReasons); reason++ {
		n := r.closeReasons[reason].Load()
		if n == 0 {
			continue
		}
		fmt.Fprintf(&b, "dmq_sessions_closed_reason_total{reason=%q} %d\n", reason.String(), n)
	}

	counter("dmq_bytes_read_total", "Total raw bytes read off the wire.", r.bytesRead.Load())
	counter("dmq_messages_enqueued_total", "Total messages enqueued for send.", r.messagesEnqueued.Load())
	counter("dmq_frames_enqueued_total", "Total frames enqueued for send, across all messages.", r.framesEnqueued.Load())

	if r.pm != nil {
		gauge("dmq_postmaster_reader_workers", "Currently running reader worker goroutines.", int64(r.pm.ReaderWorkers()))
		gauge("dmq_postmaster_writer_workers", "Currently running writer worker goroutines.", int64(r.pm.WriterWorkers()))
	}
	if r.rpc != nil {
		gauge("dmq_rpc_calls_in_flight", "Outstanding proxy calls awaiting a return.", int64(r.rpc.PendingCalls()))
	}

	gauge("dmq_go_goroutines", "Number of goroutines.", int64(runtime.NumGoroutine()))
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	gauge("dmq_go_memstats_alloc_bytes", "Bytes currently allocated by the Go heap.", int64(mem.Alloc))

	w.Write([]byte(b.String()))
}

// HealthHandler serves /healthz (liveness) and /readyz (readiness),
// grounded in the teacher's health.go but reporting session/worker
// counts instead of PHP worker pool stats.
type HealthHandler struct {
	reg *Registry
}

// NewHealthHandler wraps reg as an http.Handler.
func NewHealthHandler(reg *Registry) *HealthHandler {
	return &HealthHandler{reg: reg}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ready", "/readyz":
		h.readiness(w)
	default:
		h.liveness(w)
	}
}

func (h *HealthHandler) liveness(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.reg.startTime).String(),
	})
}

func (h *HealthHandler) readiness(w http.ResponseWriter) {
	ready := true
	if h.reg.pm != nil {
		ready = h.reg.pm.ReaderWorkers() > 0 && h.reg.pm.WriterWorkers() > 0
	}
	status := http.StatusOK
	statusStr := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		statusStr = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          statusStr,
		"uptime":          time.Since(h.reg.startTime).String(),
		"sessions_active": h.reg.sessionsActive.Load(),
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
	})
}
