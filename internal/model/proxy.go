// Package model defines shared types for the relay.
package model

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProxyEndpoint identifies one upstream proxy. Immutable once created;
// two endpoints are equal iff all fields are equal.
type ProxyEndpoint struct {
	Scheme string
	Host   string
	Port   int
}

// ParseEndpoint parses a "host:port" listing line into a ProxyEndpoint.
// The listing service only serves plain HTTP proxies, so the scheme is
// always "http".
func ParseEndpoint(line string) (ProxyEndpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(line))
	if err != nil {
		return ProxyEndpoint{}, fmt.Errorf("parse endpoint %q: %w", line, err)
	}
	if host == "" {
		return ProxyEndpoint{}, fmt.Errorf("parse endpoint %q: empty host", line)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return ProxyEndpoint{}, fmt.Errorf("parse endpoint %q: invalid port", line)
	}
	return ProxyEndpoint{Scheme: "http", Host: host, Port: port}, nil
}

// URL returns the endpoint as a *url.URL suitable for http.ProxyURL.
func (e ProxyEndpoint) URL() *url.URL {
	return &url.URL{
		Scheme: e.Scheme,
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
	}
}

// String renders the endpoint as scheme://host:port.
func (e ProxyEndpoint) String() string {
	return e.URL().String()
}

// RelayRequest represents one inbound request to be forwarded to its target.
// Body is buffered so it can be replayed on retry attempts.
type RelayRequest struct {
	Method string
	Target string // raw target URL from the request path, scheme optional
	Header http.Header
	Body   []byte
}

// RelayResponse represents the upstream response to be streamed back.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorKind is the closed set of ways an outbound attempt can fail.
type ErrorKind int

const (
	// KindNone means the attempt received an HTTP response.
	KindNone ErrorKind = iota
	// KindTimeout means the attempt exceeded its deadline.
	KindTimeout
	// KindTransport means connect, DNS, or TLS failure before any response.
	KindTransport
	// KindUnknown covers everything else.
	KindUnknown
)

// String returns the label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ForwardAttempt records one try at relaying a request via one route.
// It lives only for the duration of the inbound request.
type ForwardAttempt struct {
	Target   string
	Route    string // endpoint string, or "direct"
	Number   int    // 1-based
	Kind     ErrorKind
	Status   int // HTTP status when Kind == KindNone
	Err      error
	Duration time.Duration
}

// RouteDirect is the Route value for attempts made without a proxy.
const RouteDirect = "direct"
