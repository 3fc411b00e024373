// Package service implements the core request-forwarding engine.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rotating-proxy-go/internal/client"
	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/metrics"
	"rotating-proxy-go/internal/model"
)

// ErrInvalidTarget is returned when the embedded target URL cannot be
// normalized into something forwardable.
var ErrInvalidTarget = errors.New("invalid target URL")

// httpsHeuristicHosts lists host substrings assumed to be HTTPS-only when a
// target arrives without a scheme. This is an explicit, fixed heuristic,
// not scheme detection.
var httpsHeuristicHosts = []string{"google", "github", "facebook", "twitter"}

// userAgents is the rotated client identity set; each outbound request
// picks one at random.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
}

// forwardableRequestHeaders are the only inbound headers carried upstream;
// everything else is replaced by the rotated identity set.
var forwardableRequestHeaders = []string{
	"Content-Type",
	"Accept-Encoding",
}

// hopByHopHeaders are never re-emitted from upstream responses.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Picker is the pool read interface consumed by the engine.
type Picker interface {
	Pick() (model.ProxyEndpoint, bool)
}

// RelayError is a terminal forwarding failure surfaced to the relay's caller.
type RelayError struct {
	StatusCode int
	Kind       model.ErrorKind
	Err        error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay failed (%s): %v", e.Kind, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// RelayService forwards one inbound request to its target, rotating through
// the proxy pool with retry and direct fallback.
type RelayService struct {
	client  *client.Client
	pool    Picker
	logger  *slog.Logger
	metrics *metrics.Metrics

	requestDelay time.Duration
	retryBackoff time.Duration
	maxAttempts  int
}

// NewRelayService creates a RelayService. The metrics parameter is optional.
func NewRelayService(c *client.Client, p Picker, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		client:       c,
		pool:         p,
		logger:       logger.With("component", "relay_service"),
		metrics:      m,
		requestDelay: time.Duration(cfg.Relay.RequestDelaySeconds) * time.Second,
		retryBackoff: time.Duration(cfg.Relay.RetryBackoffSeconds) * time.Second,
		maxAttempts:  cfg.Relay.MaxAttempts,
	}
}

// Forward relays one request to its (normalized) target. Each attempt
// independently re-picks from the pool; an empty pool or exhausted pick
// degrades the attempt to a direct connection. Any received HTTP status —
// 4xx and 5xx included — is a valid forwarded response and terminates the
// loop; only transport-level failures are retried. After the final failed
// attempt the error is a *RelayError carrying the status for the caller
// (504 for timeouts and connect failures, 500 otherwise).
//
// The returned attempts slice records every try for logging and tests. The
// caller owns the response body.
func (s *RelayService) Forward(ctx context.Context, req *model.RelayRequest) (*model.RelayResponse, []model.ForwardAttempt, error) {
	target, err := NormalizeTarget(req.Target)
	if err != nil {
		return nil, nil, err
	}

	header := s.outboundHeader(req.Header)

	// Fixed pacing toward upstream rate limits. Deliberately constant,
	// not adaptive.
	if err := s.sleep(ctx, s.requestDelay); err != nil {
		return nil, nil, err
	}

	attempts := make([]model.ForwardAttempt, 0, s.maxAttempts)
	for n := 1; n <= s.maxAttempts; n++ {
		var via *url.URL
		route := model.RouteDirect
		if ep, ok := s.pool.Pick(); ok {
			via = ep.URL()
			route = ep.String()
		}

		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}

		// An in-flight attempt is never cancelled by a client disconnect;
		// it ends only when its own timeout fires.
		start := time.Now()
		resp, err := s.client.Do(context.WithoutCancel(ctx), via, req.Method, target, header, body)

		attempt := model.ForwardAttempt{
			Target:   target,
			Route:    route,
			Number:   n,
			Kind:     client.Classify(err),
			Err:      err,
			Duration: time.Since(start),
		}

		if err == nil {
			attempt.Status = resp.StatusCode
			attempts = append(attempts, attempt)
			s.observe(attempt)
			resp.Header = filterResponseHeaders(resp.Header)
			return resp, attempts, nil
		}

		attempts = append(attempts, attempt)
		s.observe(attempt)

		if n == s.maxAttempts {
			return nil, attempts, &RelayError{
				StatusCode: terminalStatus(attempt.Kind),
				Kind:       attempt.Kind,
				Err:        err,
			}
		}

		if err := s.sleep(ctx, s.retryBackoff); err != nil {
			return nil, attempts, err
		}
	}

	// Unreachable while maxAttempts >= 1; validated by config.
	return nil, attempts, &RelayError{StatusCode: http.StatusInternalServerError, Kind: model.KindUnknown, Err: errors.New("no attempts made")}
}

// NormalizeTarget ensures the target has a scheme. Targets without one get
// http:// unless the host matches the HTTPS heuristic list, which gets
// https://.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidTarget
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		host := raw
		if i := strings.IndexByte(host, '/'); i >= 0 {
			host = host[:i]
		}
		scheme := "http://"
		lower := strings.ToLower(host)
		for _, h := range httpsHeuristicHosts {
			if strings.Contains(lower, h) {
				scheme = "https://"
				break
			}
		}
		raw = scheme + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if u.Host == "" {
		return "", ErrInvalidTarget
	}
	return u.String(), nil
}

// outboundHeader builds the header set sent upstream: a rotated identity
// plus the few forwardable inbound headers.
func (s *RelayService) outboundHeader(inbound http.Header) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")

	for _, key := range forwardableRequestHeaders {
		if vals := inbound.Values(key); len(vals) > 0 {
			h[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return h
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}

// terminalStatus maps the final attempt's failure kind onto the status
// surfaced to the relay's client.
func terminalStatus(kind model.ErrorKind) int {
	switch kind {
	case model.KindTimeout, model.KindTransport:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *RelayService) observe(a model.ForwardAttempt) {
	routeLabel := metrics.RouteProxy
	if a.Route == model.RouteDirect {
		routeLabel = metrics.RouteDirect
	}
	if s.metrics != nil {
		s.metrics.AttemptsTotal.WithLabelValues(routeLabel, a.Kind.String()).Inc()
	}

	if a.Kind == model.KindNone {
		s.logger.Info("forward attempt succeeded",
			"attempt", a.Number,
			"route", a.Route,
			"target", a.Target,
			"status", a.Status,
			"duration_ms", a.Duration.Milliseconds(),
		)
		return
	}
	s.logger.Error("forward attempt failed",
		"attempt", a.Number,
		"route", a.Route,
		"target", a.Target,
		"outcome", a.Kind.String(),
		"err", a.Err,
	)
}

func (s *RelayService) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
