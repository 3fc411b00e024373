package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"rotating-proxy-go/internal/client"
	"rotating-proxy-go/internal/config"
	"rotating-proxy-go/internal/model"
	"rotating-proxy-go/internal/service"
)

// emptyPicker is an always-empty pool: every attempt goes direct.
type emptyPicker struct{}

func (emptyPicker) Pick() (model.ProxyEndpoint, bool) { return model.ProxyEndpoint{}, false }

func newTestRelayHandler(t *testing.T, maxAttempts int) *RelayHandler {
	t.Helper()
	cfg := &config.Config{
		Relay: config.RelayConfig{
			AttemptTimeoutSeconds: 3,
			MaxAttempts:           maxAttempts,
			IdleConnections:       10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewRelayService(client.New(cfg, logger, nil), emptyPicker{}, cfg, logger, nil)
	return NewRelayHandler(svc, logger)
}

func serveRelay(t *testing.T, h *RelayHandler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()

	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()

	c := e.NewContext(req, rec)
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestRelayHandler_ForwardsStatusAndBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"origin":"1.2.3.4"}`))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, 1)
	rec := serveRelay(t, h, http.MethodGet, "/"+upstream.URL, http.NoBody)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if rec.Body.String() != `{"origin":"1.2.3.4"}` {
		t.Errorf("body = %q, want upstream body verbatim", rec.Body.String())
	}
}

func TestRelayHandler_UpstreamErrorPassedThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, 3)
	rec := serveRelay(t, h, http.MethodGet, "/"+upstream.URL, http.NoBody)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d passed through", rec.Code, http.StatusNotFound)
	}
}

func TestRelayHandler_TargetQueryPreserved(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, 1)
	rec := serveRelay(t, h, http.MethodGet, "/"+upstream.URL+"/search?q=relay&page=2", http.NoBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotQuery != "q=relay&page=2" {
		t.Errorf("upstream query = %q, want %q", gotQuery, "q=relay&page=2")
	}
}

func TestRelayHandler_PostForwardsBody(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, 1)
	rec := serveRelay(t, h, http.MethodPost, "/"+upstream.URL+"/submit", strings.NewReader(`{"k":"v"}`))

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if gotBody != `{"k":"v"}` {
		t.Errorf("upstream body = %q, want %q", gotBody, `{"k":"v"}`)
	}
}

func TestRelayHandler_EmptyTarget(t *testing.T) {
	h := newTestRelayHandler(t, 1)
	rec := serveRelay(t, h, http.MethodGet, "/", http.NoBody)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRelayHandler_InvalidTarget(t *testing.T) {
	h := newTestRelayHandler(t, 1)
	rec := serveRelay(t, h, http.MethodGet, "/http://", http.NoBody)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected an error message in the response body")
	}
}

func TestRelayHandler_ExhaustedRetries(t *testing.T) {
	// Unreachable upstream: every direct attempt fails transport-level.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadURL := "http://" + ln.Addr().String()
	_ = ln.Close()

	h := newTestRelayHandler(t, 3)
	rec := serveRelay(t, h, http.MethodGet, "/"+deadURL, http.NoBody)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d after exhausted retries", rec.Code, http.StatusGatewayTimeout)
	}
}
