// Package client provides the outbound HTTP client used for forward
// attempts, either through an upstream proxy or directly.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/metrics"
	"rotating-proxy-go/internal/model"
)

// Client executes outbound forward attempts. The zero proxy case shares one
// pooled transport; proxied attempts get a throwaway transport because the
// endpoint changes on every attempt.
type Client struct {
	direct  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Client with connection pooling for direct attempts.
// The metrics parameter is optional; pass nil to disable attempt metrics.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	timeout := time.Duration(cfg.Relay.AttemptTimeoutSeconds) * time.Second
	transport := &http.Transport{
		MaxIdleConns:        cfg.Relay.IdleConnections,
		MaxIdleConnsPerHost: cfg.Relay.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		direct: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		timeout: timeout,
		logger:  logger.With("component", "outbound_client"),
		metrics: m,
	}
}

// Do executes one outbound request for target. via selects the route: a
// proxy URL, or nil for a direct connection. Any received HTTP status —
// including 4xx/5xx — is a success at this layer; the returned error is
// always classifiable via Classify. The caller owns the response body.
func (c *Client) Do(ctx context.Context, via *url.URL, method, target string, header http.Header, body io.Reader) (*model.RelayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build outbound request: %w", err)
	}
	req.Header = header

	httpClient := c.direct
	if via != nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyURL(via),
				DisableKeepAlives: true,
			},
			Timeout: c.timeout,
		}
	}

	route := metrics.RouteDirect
	if via != nil {
		route = metrics.RouteProxy
	}

	start := time.Now()
	resp, err := httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via RelayResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.AttemptDuration.WithLabelValues(route).Observe(duration)
	}

	if err != nil {
		return nil, fmt.Errorf("outbound request: %w", err)
	}

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Classify maps an outbound error onto the closed failure taxonomy the
// retry loop switches on.
func Classify(err error) model.ErrorKind {
	if err == nil {
		return model.KindNone
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return model.KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.KindTransport
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.KindTransport
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// url.Error wraps everything the transport produces; anything not
		// matched above (TLS handshake, proxy connect refusal, EOF) is
		// still a transport-level failure, not an upstream response.
		return model.KindTransport
	}

	return model.KindUnknown
}
