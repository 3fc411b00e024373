package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/metrics"
	"rotating-proxy-go/internal/model"
)

// Fetcher supplies candidate endpoints from a listing service.
type Fetcher interface {
	Fetch(ctx context.Context) []model.ProxyEndpoint
}

// Prober reports whether a single endpoint can complete a round trip.
type Prober interface {
	Validate(ctx context.Context, ep model.ProxyEndpoint) bool
}

// Refresher periodically rebuilds the pool: fetch candidates, validate a
// bounded sample, replace the pool with whatever passed. It is the pool's
// only writer. A failed cycle is never retried early; the interval timer
// is the sole retry mechanism.
type Refresher struct {
	fetcher Fetcher
	prober  Prober
	pool    *Pool
	logger  *slog.Logger
	metrics *metrics.Metrics

	interval     time.Duration
	maxChecked   int
	fallbackSize int
	concurrency  int

	mu          sync.Mutex
	running     bool
	lastRefresh time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a Refresher. The metrics parameter is optional.
func NewRefresher(f Fetcher, pr Prober, p *Pool, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Refresher {
	return &Refresher{
		fetcher:      f,
		prober:       pr,
		pool:         p,
		logger:       logger.With("component", "pool_refresher"),
		metrics:      m,
		interval:     time.Duration(cfg.Pool.RefreshIntervalSeconds) * time.Second,
		maxChecked:   cfg.Validator.MaxChecked,
		fallbackSize: cfg.Validator.FallbackSize,
		concurrency:  cfg.Validator.Concurrency,
	}
}

// RefreshOnce runs a single fetch → validate → replace cycle.
//
// The two degraded paths are deliberately asymmetric: a failed fetch keeps
// the existing pool untouched, while a fetch whose candidates all fail
// validation replaces the pool with an unvalidated prefix of the
// candidates. Both favor having some pool over having a pure one.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	start := time.Now()
	outcome := r.refresh(ctx)
	duration := time.Since(start)

	r.mu.Lock()
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RefreshTotal.WithLabelValues(outcome).Inc()
		r.metrics.RefreshDuration.Observe(duration.Seconds())
	}
	r.logger.Info("refresh cycle finished",
		"outcome", outcome,
		"pool_size", r.pool.Size(),
		"duration_ms", duration.Milliseconds(),
	)
}

func (r *Refresher) refresh(ctx context.Context) string {
	candidates := r.fetcher.Fetch(ctx)
	if len(candidates) == 0 {
		r.logger.Warn("listing fetch returned nothing, keeping existing pool")
		return metrics.RefreshKept
	}

	sample := candidates
	if len(sample) > r.maxChecked {
		sample = sample[:r.maxChecked]
	}

	passing := r.validate(ctx, sample)
	if len(passing) > 0 {
		r.pool.Replace(passing)
		return metrics.RefreshReplaced
	}

	fallback := candidates
	if len(fallback) > r.fallbackSize {
		fallback = fallback[:r.fallbackSize]
	}
	r.logger.Warn("no candidate passed validation, using untested fallback", "size", len(fallback))
	r.pool.Replace(fallback)
	return metrics.RefreshFallback
}

// validate probes the sample with bounded concurrency and returns the
// passing endpoints in their original candidate order.
func (r *Refresher) validate(ctx context.Context, sample []model.ProxyEndpoint) []model.ProxyEndpoint {
	results := make([]bool, len(sample))
	sem := make(chan struct{}, r.concurrency)

	var wg sync.WaitGroup
	for i, ep := range sample {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.prober.Validate(ctx, ep)
		}()
	}
	wg.Wait()

	var passing []model.ProxyEndpoint
	for i, ok := range results {
		if ok {
			passing = append(passing, sample[i])
		}
		if r.metrics != nil {
			result := "fail"
			if ok {
				result = "pass"
			}
			r.metrics.ValidationsTotal.WithLabelValues(result).Inc()
		}
	}

	r.logger.Info("validated candidate sample", "checked", len(sample), "passed", len(passing))
	return passing
}

// Start launches the periodic refresh loop on its own goroutine.
func (r *Refresher) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RefreshOnce(ctx)
			}
		}
	}()
	r.logger.Info("refresh loop started", "interval", r.interval)
}

// Stop cancels the loop and waits for a refresh in progress to finish or
// be abandoned, bounded by ctx.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

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

// Status reports whether the loop is running and when the last refresh
// attempt completed (zero before the first one).
func (r *Refresher) Status() (running bool, lastRefresh time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running, r.lastRefresh
}
