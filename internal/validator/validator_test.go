package validator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/model"
)

func newTestValidator(t *testing.T, testURL string) *Validator {
	t.Helper()
	cfg := &config.Config{
		Validator: config.ValidatorConfig{TestURL: testURL, TimeoutSeconds: 2},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger)
}

// endpointFor turns an httptest server into a ProxyEndpoint pointing at it.
func endpointFor(t *testing.T, srv *httptest.Server) model.ProxyEndpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return model.ProxyEndpoint{Scheme: "http", Host: u.Hostname(), Port: port}
}

func TestValidate_Passes(t *testing.T) {
	// For plain-HTTP targets the client sends the full request to the
	// proxy, so a regular httptest server can stand in for one.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Host == "" {
			t.Error("expected absolute-form request URL through proxy")
		}
		_, _ = w.Write([]byte(`{"origin":"1.2.3.4"}`))
	}))
	defer proxy.Close()

	v := newTestValidator(t, "http://probe.test/ip")
	if !v.Validate(context.Background(), endpointFor(t, proxy)) {
		t.Error("Validate() = false, want true for 200 through proxy")
	}
}

func TestValidate_Non200(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer proxy.Close()

	v := newTestValidator(t, "http://probe.test/ip")
	if v.Validate(context.Background(), endpointFor(t, proxy)) {
		t.Error("Validate() = true, want false for non-200")
	}
}

func TestValidate_ConnectRefused(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ep := endpointFor(t, proxy)
	proxy.Close() // refuse connections from here on

	v := newTestValidator(t, "http://probe.test/ip")
	if v.Validate(context.Background(), ep) {
		t.Error("Validate() = true, want false for refused connection")
	}
}

func TestValidate_ContextCanceled(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer proxy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newTestValidator(t, "http://probe.test/ip")
	if v.Validate(ctx, endpointFor(t, proxy)) {
		t.Error("Validate() = true, want false for canceled context")
	}
}
