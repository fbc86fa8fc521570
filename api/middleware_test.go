package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestGzipRequestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(`{"title":"zipped"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/task", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()

	var got string
	handler := GzipRequestMiddleware()(func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		got = string(body)
		return c.NoContent(http.StatusNoContent)
	})
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != `{"title":"zipped"}` {
		t.Fatalf("unexpected body %q", got)
	}
	if req.Header.Get(echo.HeaderContentEncoding) != "" {
		t.Fatalf("content encoding header not cleared")
	}
}

func TestGzipRequestMiddlewareRejectsInvalidBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/task", strings.NewReader("plain"))
	req.Header.Set(echo.HeaderContentEncoding, "deflate, gzip")
	rec := httptest.NewRecorder()

	handler := GzipRequestMiddleware()(func(echo.Context) error {
		t.Fatal("handler should not run")
		return nil
	})
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequestLoggerWritesEntry(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "request" {
		t.Fatalf("expected request log entry, got %#v", entry)
	}
	if entry.Data["uri"] != "/ping" || entry.Data["status"] != http.StatusOK {
		t.Fatalf("unexpected fields: %#v", entry.Data)
	}
}
