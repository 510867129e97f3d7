package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sadewadee/dmq/internal/closereason"
	"github.com/sadewadee/dmq/internal/metrics"
)

func TestRegistrySessionLifecycle(t *testing.T) {
	reg := metrics.New(nil, nil)
	reg.SessionOpened()
	reg.SessionOpened()
	reg.SessionClosed(closereason.ClientClosing)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	reg.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "dmq_sessions_active 1") {
		t.Fatalf("expected one active session, got:\n%s", body)
	}
	if !strings.Contains(body, `dmq_sessions_closed_reason_total{reason="ClientClosing"} 1`) {
		t.Fatalf("expected ClientClosing close reason counted, got:\n%s", body)
	}
}

func TestRegistryTrafficCounters(t *testing.T) {
	reg := metrics.New(nil, nil)
	reg.BytesRead(128)
	reg.MessageEnqueued(3)
	reg.MessageEnqueued(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	reg.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "dmq_bytes_read_total 128") {
		t.Fatalf("expected 128 bytes read, got:\n%s", body)
	}
	if !strings.Contains(body, "dmq_messages_enqueued_total 2") {
		t.Fatalf("expected 2 messages enqueued, got:\n%s", body)
	}
	if !strings.Contains(body, "dmq_frames_enqueued_total 4") {
		t.Fatalf("expected 4 frames enqueued, got:\n%s", body)
	}
}

func TestHealthHandlerLiveness(t *testing.T) {
	reg := metrics.New(nil, nil)
	h := metrics.NewHealthHandler(reg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected ok status, got %s", w.Body.String())
	}
}

type fakeRPCStats struct{ pending int }

func (f fakeRPCStats) PendingCalls() int { return f.pending }

func TestRegistryReportsRPCStats(t *testing.T) {
	reg := metrics.New(nil, nil)
	reg.SetRPCStats(fakeRPCStats{pending: 7})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	reg.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "dmq_rpc_calls_in_flight 7") {
		t.Fatalf("expected 7 calls in flight, got:\n%s", w.Body.String())
	}
}

func TestHealthHandlerReadinessWithoutPostmaster(t *testing.T) {
	reg := metrics.New(nil, nil)
	h := metrics.NewHealthHandler(reg)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when no postmaster is attached, got %d", w.Code)
	}
}
