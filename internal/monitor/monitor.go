// Package monitor exercises the relay through its public endpoint with
// periodic synthetic probes and keeps a bounded history of the outcomes.
// It never calls the forwarding engine directly.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"rotating-proxy-go/internal/config"
)

// Probe states.
const (
	StateSuccess   = "success"
	StateHTTPError = "http_error"
	StateError     = "error"
)

// ProbeResult is the outcome of one synthetic request through the relay.
type ProbeResult struct {
	Target          string    `json:"target"`
	State           string    `json:"state"`
	StatusCode      int       `json:"status_code,omitempty"`
	Error           string    `json:"error,omitempty"`
	ResponseSeconds float64   `json:"response_time_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot is a read-only view of the monitor's state for the status endpoint.
type Snapshot struct {
	Running                bool          `json:"running"`
	LastCheck              time.Time     `json:"last_check"`
	TotalProbes            uint64        `json:"total_probes"`
	SuccessfulProbes       uint64        `json:"successful_probes"`
	FailedProbes           uint64        `json:"failed_probes"`
	AverageResponseSeconds float64       `json:"average_response_seconds"`
	Recent                 []ProbeResult `json:"recent"`
}

// Monitor drives synthetic requests through the relay's inbound interface.
type Monitor struct {
	relayBase   string
	targets     []string
	interval    time.Duration
	historySize int
	httpClient  *http.Client
	logger      *slog.Logger

	mu           sync.Mutex
	running      bool
	lastCheck    time.Time
	total        uint64
	successful   uint64
	failed       uint64
	totalSeconds float64
	recent       []ProbeResult

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor probing the relay at its own listen address.
func New(cfg *config.Config, logger *slog.Logger) *Monitor {
	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return &Monitor{
		relayBase:   fmt.Sprintf("http://%s:%d", host, cfg.Server.Port),
		targets:     cfg.Monitor.Targets,
		interval:    time.Duration(cfg.Monitor.IntervalSeconds) * time.Second,
		historySize: cfg.Monitor.HistorySize,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      logger.With("component", "status_monitor"),
	}
}

// Start launches the probe loop, beginning with an immediate round.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.probeAll(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
	m.logger.Info("status monitor started", "interval", m.interval, "targets", len(m.targets))
}

// Stop cancels the loop and waits for a probe round in progress, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, target := range m.targets {
		if ctx.Err() != nil {
			return
		}
		m.record(m.probe(ctx, target))
	}
	m.mu.Lock()
	m.lastCheck = time.Now()
	m.mu.Unlock()
}

// probe sends one request for target through the relay's public endpoint.
func (m *Monitor) probe(ctx context.Context, target string) ProbeResult {
	result := ProbeResult{Target: target, Timestamp: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.relayBase+"/"+target, http.NoBody)
	if err != nil {
		result.State = StateError
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", "rotating-proxy-monitor/1.0")

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	result.ResponseSeconds = time.Since(start).Seconds()
	if err != nil {
		result.State = StateError
		result.Error = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.State = StateSuccess
	} else {
		result.State = StateHTTPError
		result.Error = resp.Status
	}
	return result
}

func (m *Monitor) record(r ProbeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if r.State == StateSuccess {
		m.successful++
		m.totalSeconds += r.ResponseSeconds
	} else {
		m.failed++
	}

	m.recent = append(m.recent, r)
	if len(m.recent) > m.historySize {
		m.recent = m.recent[len(m.recent)-m.historySize:]
	}

	m.logger.Debug("synthetic probe",
		"target", r.Target,
		"state", r.State,
		"status", r.StatusCode,
	)
}

// Snapshot returns a copy of the monitor's current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg float64
	if m.successful > 0 {
		avg = m.totalSeconds / float64(m.successful)
	}

	recent := make([]ProbeResult, len(m.recent))
	copy(recent, m.recent)

	return Snapshot{
		Running:                m.running,
		LastCheck:              m.lastCheck,
		TotalProbes:            m.total,
		SuccessfulProbes:       m.successful,
		FailedProbes:           m.failed,
		AverageResponseSeconds: avg,
		Recent:                 recent,
	}
}
