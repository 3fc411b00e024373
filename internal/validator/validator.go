// Package validator probes candidate proxy endpoints against a known-good
// test target.
package validator

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/model"
)

const probeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Validator checks that an endpoint can complete one round trip to the
// configured test target. It is a pure probe with no side effects on the pool.
type Validator struct {
	testURL string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Validator with a fixed short probe timeout.
func New(cfg *config.Config, logger *slog.Logger) *Validator {
	return &Validator{
		testURL: cfg.Validator.TestURL,
		timeout: time.Duration(cfg.Validator.TimeoutSeconds) * time.Second,
		logger:  logger.With("component", "proxy_validator"),
	}
}

// Validate routes one GET to the test target through the endpoint.
// Success is strictly an HTTP 200 within the timeout; every failure mode
// (connect refused, timeout, TLS, non-200) reports false and is never
// propagated.
func (v *Validator) Validate(ctx context.Context, ep model.ProxyEndpoint) bool {
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(ep.URL()),
			DisableKeepAlives: true,
		},
		Timeout: v.timeout,
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.testURL, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		v.logger.Debug("probe failed", "endpoint", ep.String(), "err", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	v.logger.Debug("probe completed", "endpoint", ep.String(), "status", resp.StatusCode, "ok", ok)
	return ok
}
