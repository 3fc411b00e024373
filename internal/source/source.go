// Package source fetches candidate proxy endpoints from an external
// listing service.
package source

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/model"
)

// Some listing services block default Go client identities.
const listingUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Source fetches candidate endpoints from the configured listing URL.
type Source struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// New creates a Source with a bounded fetch timeout.
func New(cfg *config.Config, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		},
		url:    cfg.Source.URL,
		logger: logger.With("component", "proxy_source"),
	}
}

// Fetch performs one call to the listing service and parses the
// newline-delimited host:port body. Malformed lines are skipped. Any
// transport failure, timeout, or non-2xx status yields an empty slice —
// the caller treats "empty" as "keep the existing pool". Fetch never
// retries; the refresh timer owns the retry cadence.
func (s *Source) Fetch(ctx context.Context) []model.ProxyEndpoint {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		s.logger.Error("build listing request", "err", err)
		return nil
	}
	req.Header.Set("User-Agent", listingUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("fetch proxy listing", "err", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("fetch proxy listing", "status", resp.StatusCode)
		return nil
	}

	var endpoints []model.ProxyEndpoint
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ep, err := model.ParseEndpoint(line)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if err := scanner.Err(); err != nil {
		// A truncated body still yields whatever parsed before the error.
		s.logger.Warn("read proxy listing", "err", err, "parsed", len(endpoints))
	}

	s.logger.Info("fetched proxy listing", "candidates", len(endpoints))
	return endpoints
}
