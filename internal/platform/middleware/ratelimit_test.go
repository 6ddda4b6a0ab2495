package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func doLimited(t *testing.T, h echo.HandlerFunc, path, ip, token string) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if token != "" {
		c.SetParamNames("token")
		c.SetParamValues(token)
	}
	err := h(c)
	if err != nil {
		if httpErr, ok := err.(*echo.HTTPError); ok {
			return httpErr.Code
		}
		t.Fatalf("unexpected error type: %v", err)
	}
	return rec.Code
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for i := 0; i < 3; i++ {
		if code := doLimited(t, h, "/api/v1/signature-requests", "10.0.0.1", ""); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	doLimited(t, h, "/", "10.0.0.2", "")
	doLimited(t, h, "/", "10.0.0.2", "")
	if code := doLimited(t, h, "/", "10.0.0.2", ""); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if code := doLimited(t, h, "/", "10.0.0.3", ""); code != http.StatusOK {
		t.Fatalf("first ip: expected 200, got %d", code)
	}
	if code := doLimited(t, h, "/", "10.0.0.4", ""); code != http.StatusOK {
		t.Errorf("second ip should have its own bucket, got %d", code)
	}
}

func TestRateLimitWithKey_PerToken(t *testing.T) {
	mw := RateLimitWithKey(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1}, KeyByPathToken)
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// Same token from different addresses shares one budget.
	if code := doLimited(t, h, "/sign/sig-a", "10.0.0.5", "sig-a"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := doLimited(t, h, "/sign/sig-a", "10.0.0.6", "sig-a"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for same token from another ip, got %d", code)
	}
	// A different token is unaffected.
	if code := doLimited(t, h, "/sign/sig-b", "10.0.0.5", "sig-b"); code != http.StatusOK {
		t.Errorf("expected 200 for different token, got %d", code)
	}
}

func TestRateLimitWithKey_EmptyKeySkips(t *testing.T) {
	mw := RateLimitWithKey(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1}, KeyByPathToken)
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for i := 0; i < 5; i++ {
		if code := doLimited(t, h, "/health", "10.0.0.7", ""); code != http.StatusOK {
			t.Fatalf("request %d without token param should skip limiting, got %d", i, code)
		}
	}
}

func TestRateLimit_SetsRetryAfterHeader(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.8:12345"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h(c)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.8:12345"
	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(req2, rec2)
	if err := h(c2); err == nil {
		t.Fatal("expected rate limit error")
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on limited response")
	}
}
