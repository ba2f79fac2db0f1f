package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// HealthStatus is the JSON document served at /status.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Training  TrainingInfo  `json:"training"`
	Alerts    []Alert       `json:"alerts"`
}

// SystemInfo describes the host process.
type SystemInfo struct {
	GoVersion      string  `json:"go_version"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	NumCPU         int     `json:"num_cpu"`
	MemoryMB       int     `json:"memory_mb"`
	MemoryUsedMB   int     `json:"memory_used_mb"`
	MemoryUsagePct float64 `json:"memory_usage_pct"`
}

// TrainingInfo summarizes training progress since startup.
type TrainingInfo struct {
	Epoch           int       `json:"epoch"`
	StepsTotal      int       `json:"steps_total"`
	TokensTotal     int       `json:"tokens_total"`
	LastLoss        float64   `json:"last_loss"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgStepMs       float64   `json:"avg_step_ms"`
	P95StepMs       float64   `json:"p95_step_ms"`
	LastStep        time.Time `json:"last_step"`
}

// Alert is a recorded health event.
type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // trainer, memory, system
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type stepPoint struct {
	timestamp time.Time
	tokens    int
	duration  time.Duration
}

// slowStepThreshold triggers a warning alert for a single optimizer step.
const slowStepThreshold = 30 * time.Second

// Monitor serves health, status, and Prometheus endpoints for a training
// run and tracks recent step throughput.
type Monitor struct {
	startTime time.Time
	server    *http.Server

	mu       sync.RWMutex
	alerts   []Alert
	history  []stepPoint
	epoch    int
	steps    int
	tokens   int
	lastLoss float64
	lastStep time.Time
}

// New creates a Monitor.
func New() *Monitor {
	return &Monitor{startTime: time.Now()}
}

// Start serves the monitoring endpoints on addr. It blocks until the server
// stops.
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleHealth) // Kubernetes compatibility
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", m.handleStatus)
	mux.HandleFunc("/admin/alerts", m.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", m.handleClearAlerts)

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Log.Info("Monitor serving", "addr", addr)
	return m.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordStep records one completed optimizer step.
func (m *Monitor) RecordStep(loss float64, tokens int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.lastStep = now
	m.lastLoss = loss
	m.steps++
	m.tokens += tokens

	m.history = append(m.history, stepPoint{timestamp: now, tokens: tokens, duration: duration})
	if len(m.history) > 1000 {
		m.history = m.history[1:]
	}
	if duration > slowStepThreshold {
		m.addAlertLocked("warning", "trainer",
			fmt.Sprintf("Slow step: %v for %d tokens", duration.Round(time.Millisecond), tokens))
	}
}

// SetEpoch records the epoch currently being trained.
func (m *Monitor) SetEpoch(epoch int) {
	m.mu.Lock()
	m.epoch = epoch
	m.mu.Unlock()
}

// AddAlert records a health event.
func (m *Monitor) AddAlert(level, component, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAlertLocked(level, component, message)
}

func (m *Monitor) addAlertLocked(level, component, message string) {
	m.alerts = append(m.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(m.alerts) > 100 {
		m.alerts = m.alerts[1:]
	}
	logger.Log.Warn("Alert raised", "level", level, "component", component, "message", message)
}

// ResolveAlert marks the alert at index resolved.
func (m *Monitor) ResolveAlert(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.alerts) {
		now := time.Now()
		m.alerts[index].Resolved = true
		m.alerts[index].ResolvedAt = &now
	}
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := m.Status()
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Status())
}

func (m *Monitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (m *Monitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.mu.Lock()
	m.alerts = m.alerts[:0]
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// Status computes the current health snapshot.
func (m *Monitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := "healthy"
	for _, alert := range m.alerts {
		if alert.Resolved {
			continue
		}
		switch alert.Level {
		case "critical":
			status = "critical"
		case "error":
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime),
		System:    systemInfo(),
		Training:  m.trainingInfoLocked(),
		Alerts:    append([]Alert(nil), m.alerts...),
	}
}

func systemInfo() SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemInfo{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		MemoryMB:       int(ms.Sys / 1024 / 1024),
		MemoryUsedMB:   int(ms.Alloc / 1024 / 1024),
		MemoryUsagePct: float64(ms.Alloc) / float64(ms.Sys) * 100,
	}
}

func (m *Monitor) trainingInfoLocked() TrainingInfo {
	info := TrainingInfo{
		Epoch:       m.epoch,
		StepsTotal:  m.steps,
		TokensTotal: m.tokens,
		LastLoss:    m.lastLoss,
		LastStep:    m.lastStep,
	}
	if len(m.history) == 0 {
		return info
	}

	var totalTokens int
	var totalDuration time.Duration
	latencies := make([]float64, 0, len(m.history))
	for _, p := range m.history {
		totalTokens += p.tokens
		totalDuration += p.duration
		latencies = append(latencies, float64(p.duration.Nanoseconds())/1e6)
	}
	sort.Float64s(latencies)
	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}

	if totalDuration > 0 {
		info.TokensPerSecond = float64(totalTokens) / totalDuration.Seconds()
	}
	info.AvgStepMs = float64(totalDuration.Nanoseconds()) / float64(len(m.history)) / 1e6
	info.P95StepMs = latencies[p95]
	return info
}
