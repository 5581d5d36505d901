package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/procfleet/procfleet/internal/events"
	"github.com/procfleet/procfleet/internal/metrics/exporters"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	exporters.HTTPHandler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	return w.Body.String()
}

// waitForMetric rescrapes until the expected line shows up; event delivery
// through the bus is asynchronous.
func waitForMetric(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(scrape(t), substr) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("metric %q never appeared", substr)
}

func TestRecorderMirrorsEvents(t *testing.T) {
	bus := events.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := NewRecorder(bus, logger)
	rec.Start()
	defer rec.Stop()
	defer DeleteProcessMetrics("rec-test")

	bus.Publish(events.ProcessStateChangedEvent{Name: "rec-test", NewState: "ACKED"})
	waitForMetric(t, `procfleet_process_state{name="rec-test"} 2`)

	bus.Publish(events.ProcessRestartedEvent{Name: "rec-test", Restarts: 1})
	waitForMetric(t, `procfleet_process_restarts_total{name="rec-test"} 1`)

	bus.Publish(events.ProcessExitedEvent{Name: "rec-test", ExitCode: 1, Acked: true})
	waitForMetric(t, `procfleet_process_exits_total{acked="true",name="rec-test"} 1`)

	bus.Publish(events.FleetScaledEvent{From: 1, To: 5})
	waitForMetric(t, "procfleet_fleet_server_workers 5")

	bus.Publish(events.FleetReadyEvent{Servers: 5})
	waitForMetric(t, "procfleet_fleet_ready 1")

	bus.Publish(events.FleetShutdownEvent{Reason: "test"})
	waitForMetric(t, "procfleet_fleet_ready 0")
}

func TestRecorderStopDetaches(t *testing.T) {
	bus := events.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := NewRecorder(bus, logger)
	rec.Start()
	rec.Stop()
	defer DeleteProcessMetrics("detached")

	bus.Publish(events.ProcessRestartedEvent{Name: "detached", Restarts: 1})
	time.Sleep(200 * time.Millisecond)
	if strings.Contains(scrape(t), `procfleet_process_restarts_total{name="detached"}`) {
		t.Error("stopped recorder still mirrored an event")
	}
}

func TestHTTPHandlerServesMetrics(t *testing.T) {
	SetProcessState("handler-test", 1)
	defer DeleteProcessMetrics("handler-test")

	body := scrape(t)
	if !strings.Contains(body, "procfleet_process_state") {
		t.Error("expected fleet metrics in response")
	}
}
