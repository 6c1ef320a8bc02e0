package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newCtx(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequestID_GeneratesULID(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/")

	var seen string
	err := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 26 {
		t.Errorf("expected 26-char ULID, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header %q does not match context %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, "upstream-id")

	_ = RequestID()(func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "upstream-id" {
			t.Errorf("expected upstream-id, got %s", rid)
		}
		return nil
	})(c)

	if rec.Header().Get(RequestIDHeader) != "upstream-id" {
		t.Errorf("expected upstream-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, strings.Repeat("x", 500))

	_ = RequestID()(func(c echo.Context) error { return nil })(c)

	if got := rec.Header().Get(RequestIDHeader); len(got) != 26 {
		t.Errorf("expected oversized id to be replaced, got %d chars", len(got))
	}
}

func TestLogger_IncludesActorAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c, _ := newCtx(http.MethodPost, "/api/v1/questionnaires")
	c.Set("request_id", "req-1")
	c.Set("actor_id", "actor-1")

	err := Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "already reviewed")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["level"] != "warn" {
		t.Errorf("expected warn level for 409, got %v", line["level"])
	}
	if line["actor_id"] != "actor-1" || line["request_id"] != "req-1" {
		t.Errorf("missing ids in %v", line)
	}
	if line["status"] != float64(http.StatusConflict) {
		t.Errorf("expected status 409, got %v", line["status"])
	}
}

func TestLogger_ServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newCtx(http.MethodGet, "/")

	_ = Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return errors.New("boom")
	})(c)

	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected error level, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newCtx(http.MethodGet, "/panic")
	c.Set("request_id", "req-9")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "req-9") || !strings.Contains(buf.String(), "test panic") {
		t.Errorf("panic log missing context: %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/ok")
	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
