package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// The limiter sits ahead of the relay catch-all, so a hot client is rejected
// before any forward attempt is made.
func TestRateLimiter_ShieldsRelayCatchAll(t *testing.T) {
	e := echo.New()

	forwards := 0
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(1))
	e.Use(echomw.RateLimiter(store))
	e.GET("/*", func(c echo.Context) error {
		forwards++
		return c.String(http.StatusOK, "ok")
	})

	relay := func() int {
		req := httptest.NewRequest(http.MethodGet, "/http://example.com/ip", http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := relay(); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", code, http.StatusOK)
	}

	got429 := false
	for range 10 {
		if relay() == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Fatal("expected at least one 429 response after burst, got none")
	}
	if forwards > 2 {
		t.Errorf("handler ran %d times, rejected requests must not reach it", forwards)
	}
}
