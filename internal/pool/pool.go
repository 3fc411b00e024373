// Package pool holds the mutable set of usable upstream proxy endpoints
// and the background task that keeps it fresh.
package pool

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"rotating-proxy-go/internal/metrics"
	"rotating-proxy-go/internal/model"
)

// Pool is the set of currently usable upstream endpoints. It is written
// exclusively by the Refresher and read concurrently by forwarding
// operations; Replace is atomic with respect to Pick, so a reader sees
// either the old or the new set, never a mix.
type Pool struct {
	mu        sync.RWMutex
	endpoints []model.ProxyEndpoint
	populated bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty Pool. The metrics parameter is optional; pass nil
// to disable pool size recording.
func New(logger *slog.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		logger:  logger.With("component", "proxy_pool"),
		metrics: m,
	}
}

// Pick returns one endpoint chosen uniformly at random from the current
// snapshot, or ok=false when the pool is empty.
func (p *Pool) Pick() (model.ProxyEndpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.endpoints) == 0 {
		return model.ProxyEndpoint{}, false
	}
	return p.endpoints[rand.IntN(len(p.endpoints))], true
}

// Replace atomically swaps the entire visible collection. An empty
// replacement on an already-populated pool is a no-op: a stale pool beats
// an empty one. The first-ever population is the exception — an empty
// result is accepted and logged as a degraded start so the relay can still
// come up and fall back to direct connections.
func (p *Pool) Replace(endpoints []model.ProxyEndpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(endpoints) == 0 {
		if p.populated {
			p.logger.Warn("empty replacement ignored, keeping stale pool", "size", len(p.endpoints))
			return
		}
		p.populated = true
		p.logger.Warn("starting with an empty pool; requests will go direct")
		p.record(0)
		return
	}

	p.endpoints = slices.Clone(endpoints)
	p.populated = true
	p.logger.Info("pool replaced", "size", len(p.endpoints))
	p.record(len(p.endpoints))
}

// Size reports the number of endpoints currently in the pool.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

func (p *Pool) record(size int) {
	if p.metrics != nil {
		p.metrics.PoolSize.Set(float64(size))
	}
}
