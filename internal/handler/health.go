package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"rotating-proxy-go/internal/monitor"
	"rotating-proxy-go/internal/pool"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	pool      *pool.Pool
	refresher *pool.Refresher
	monitor   *monitor.Monitor
	version   Version
	started   time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(p *pool.Pool, r *pool.Refresher, m *monitor.Monitor, v Version) *HealthHandler {
	return &HealthHandler{
		pool:      p,
		refresher: r,
		monitor:   m,
		version:   v,
		started:   time.Now(),
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type poolStatus struct {
	Size             int       `json:"size"`
	RefresherRunning bool      `json:"refresher_running"`
	LastRefresh      time.Time `json:"last_refresh"`
}

type statusResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Pool          poolStatus       `json:"pool"`
	Monitor       monitor.Snapshot `json:"monitor"`
}

// Status returns the read-only relay status snapshot: pool state plus the
// monitor's synthetic-probe history and counters.
func (h *HealthHandler) Status(c echo.Context) error {
	running, lastRefresh := h.refresher.Status()

	return c.JSON(http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       string(h.version),
		UptimeSeconds: time.Since(h.started).Seconds(),
		Pool: poolStatus{
			Size:             h.pool.Size(),
			RefresherRunning: running,
			LastRefresh:      lastRefresh,
		},
		Monitor: h.monitor.Snapshot(),
	})
}
