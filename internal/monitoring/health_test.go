package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStatusAggregatesSteps(t *testing.T) {
	m := New()
	m.SetEpoch(2)
	m.RecordStep(4.2, 100, 50*time.Millisecond)
	m.RecordStep(3.9, 120, 70*time.Millisecond)

	s := m.Status()
	if s.Status != "healthy" {
		t.Errorf("status = %q, want healthy", s.Status)
	}
	if s.Training.Epoch != 2 {
		t.Errorf("epoch = %d, want 2", s.Training.Epoch)
	}
	if s.Training.StepsTotal != 2 || s.Training.TokensTotal != 220 {
		t.Errorf("steps/tokens = %d/%d, want 2/220", s.Training.StepsTotal, s.Training.TokensTotal)
	}
	if s.Training.LastLoss != 3.9 {
		t.Errorf("last loss = %v, want 3.9", s.Training.LastLoss)
	}
	if s.Training.TokensPerSecond <= 0 {
		t.Errorf("tokens/sec = %v, want > 0", s.Training.TokensPerSecond)
	}
}

func TestAlertsDegradeStatus(t *testing.T) {
	m := New()
	m.AddAlert("error", "trainer", "loss went up")
	if got := m.Status().Status; got != "degraded" {
		t.Errorf("status = %q, want degraded", got)
	}
	m.AddAlert("critical", "memory", "out of memory")
	if got := m.Status().Status; got != "critical" {
		t.Errorf("status = %q, want critical", got)
	}
	m.ResolveAlert(0)
	m.ResolveAlert(1)
	if got := m.Status().Status; got != "healthy" {
		t.Errorf("status = %q after resolving, want healthy", got)
	}
}

func TestSlowStepRaisesAlert(t *testing.T) {
	m := New()
	m.RecordStep(1.0, 10, slowStepThreshold+time.Second)
	s := m.Status()
	if len(s.Alerts) != 1 || s.Alerts[0].Level != "warning" {
		t.Errorf("alerts = %+v, want one warning", s.Alerts)
	}
}

func TestHealthHandler(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}

	m.AddAlert("critical", "memory", "out of memory")
	rec = httptest.NewRecorder()
	m.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestStatusHandlerJSON(t *testing.T) {
	m := New()
	m.RecordStep(2.5, 64, 20*time.Millisecond)
	rec := httptest.NewRecorder()
	m.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var s HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if s.Training.StepsTotal != 1 {
		t.Errorf("steps = %d, want 1", s.Training.StepsTotal)
	}
}

func TestClearAlertsRequiresPost(t *testing.T) {
	m := New()
	m.AddAlert("info", "system", "hello")
	rec := httptest.NewRecorder()
	m.handleClearAlerts(rec, httptest.NewRequest(http.MethodGet, "/admin/clear-alerts", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
	rec = httptest.NewRecorder()
	m.handleClearAlerts(rec, httptest.NewRequest(http.MethodPost, "/admin/clear-alerts", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	if got := len(m.Status().Alerts); got != 0 {
		t.Errorf("alerts after clear = %d, want 0", got)
	}
}
