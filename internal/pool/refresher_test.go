package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/model"
)

type fakeFetcher struct {
	endpoints []model.ProxyEndpoint
	calls     atomic.Int64
}

func (f *fakeFetcher) Fetch(context.Context) []model.ProxyEndpoint {
	f.calls.Add(1)
	return f.endpoints
}

type fakeProber struct {
	mu     sync.Mutex
	pass   map[model.ProxyEndpoint]bool
	probed int
}

func (p *fakeProber) Validate(_ context.Context, ep model.ProxyEndpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed++
	return p.pass[ep]
}

func (p *fakeProber) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probed
}

func refresherConfig(maxChecked, fallbackSize int) *config.Config {
	return &config.Config{
		Validator: config.ValidatorConfig{
			MaxChecked:   maxChecked,
			FallbackSize: fallbackSize,
			Concurrency:  4,
		},
		Pool: config.PoolConfig{RefreshIntervalSeconds: 1800},
	}
}

func TestRefreshOnce_EmptyFetchKeepsPool(t *testing.T) {
	p := New(discardLogger(), nil)
	p.Replace(endpoints(8001, 8002))

	r := NewRefresher(&fakeFetcher{}, &fakeProber{}, p, refresherConfig(100, 50), discardLogger(), nil)
	r.RefreshOnce(context.Background())

	if got := p.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2 (stale pool kept on fetch failure)", got)
	}
}

func TestRefreshOnce_ReplacesWithPassingSet(t *testing.T) {
	candidates := endpoints(8001, 8002, 8003, 8004)
	prober := &fakeProber{pass: map[model.ProxyEndpoint]bool{
		candidates[1]: true,
		candidates[3]: true,
	}}

	p := New(discardLogger(), nil)
	r := NewRefresher(&fakeFetcher{endpoints: candidates}, prober, p, refresherConfig(100, 50), discardLogger(), nil)
	r.RefreshOnce(context.Background())

	if got := p.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2 validated endpoints", got)
	}
	for range 50 {
		ep, _ := p.Pick()
		if ep != candidates[1] && ep != candidates[3] {
			t.Fatalf("Pick() returned %v, not in the passing set", ep)
		}
	}
}

func TestRefreshOnce_AllFailUsesUntestedFallback(t *testing.T) {
	candidates := endpoints(8001, 8002, 8003, 8004, 8005)
	prober := &fakeProber{pass: map[model.ProxyEndpoint]bool{}}

	p := New(discardLogger(), nil)
	r := NewRefresher(&fakeFetcher{endpoints: candidates}, prober, p, refresherConfig(100, 3), discardLogger(), nil)
	r.RefreshOnce(context.Background())

	// Fallback is the first fallback_size candidates, untested.
	if got := p.Size(); got != 3 {
		t.Errorf("Size() = %d, want fallback size 3", got)
	}
}

func TestRefreshOnce_FallbackBoundedByAvailable(t *testing.T) {
	// Fewer candidates than the fallback cap: all of them are used.
	candidates := endpoints(8001, 8002)
	prober := &fakeProber{pass: map[model.ProxyEndpoint]bool{}}

	p := New(discardLogger(), nil)
	r := NewRefresher(&fakeFetcher{endpoints: candidates}, prober, p, refresherConfig(100, 50), discardLogger(), nil)
	r.RefreshOnce(context.Background())

	if got := p.Size(); got != 2 {
		t.Errorf("Size() = %d, want all 2 candidates as fallback", got)
	}
}

func TestRefreshOnce_ValidationSampleCapped(t *testing.T) {
	candidates := make([]model.ProxyEndpoint, 0, 30)
	for i := range 30 {
		candidates = append(candidates, model.ProxyEndpoint{Scheme: "http", Host: "10.0.0.1", Port: 8000 + i})
	}
	prober := &fakeProber{pass: map[model.ProxyEndpoint]bool{candidates[0]: true}}

	p := New(discardLogger(), nil)
	r := NewRefresher(&fakeFetcher{endpoints: candidates}, prober, p, refresherConfig(10, 50), discardLogger(), nil)
	r.RefreshOnce(context.Background())

	if got := prober.probeCount(); got != 10 {
		t.Errorf("probed %d candidates, want capped at 10", got)
	}
}

func TestRefreshOnce_UpdatesStatus(t *testing.T) {
	p := New(discardLogger(), nil)
	r := NewRefresher(&fakeFetcher{}, &fakeProber{}, p, refresherConfig(100, 50), discardLogger(), nil)

	if _, last := r.Status(); !last.IsZero() {
		t.Error("lastRefresh should be zero before the first refresh")
	}

	r.RefreshOnce(context.Background())

	if _, last := r.Status(); last.IsZero() {
		t.Error("lastRefresh should be set after a refresh")
	}
}

func TestRefresher_StartStop(t *testing.T) {
	fetcher := &fakeFetcher{endpoints: endpoints(8001)}
	prober := &fakeProber{pass: map[model.ProxyEndpoint]bool{endpoints(8001)[0]: true}}

	cfg := refresherConfig(100, 50)
	cfg.Pool.RefreshIntervalSeconds = 1

	p := New(discardLogger(), nil)
	r := NewRefresher(fetcher, prober, p, cfg, discardLogger(), nil)

	r.Start()
	if running, _ := r.Status(); !running {
		t.Error("Status() running = false after Start()")
	}

	// Let at least one ticker-driven refresh happen.
	deadline := time.After(5 * time.Second)
	for fetcher.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no refresh fired within 5s of a 1s interval")
		case <-time.After(50 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if running, _ := r.Status(); running {
		t.Error("Status() running = true after Stop()")
	}
}
