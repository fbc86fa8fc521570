package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"taskhub-api/auth"
)

func TestBearerTokenFromString(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{raw: "Bearer a.b.c", want: "a.b.c"},
		{raw: "  bearer a.b.c  ", want: "a.b.c"},
		{raw: "BEARER   a.b.c", want: "a.b.c"},
		{raw: "   ", wantErr: errBadAuthorization},
		{raw: "Bearer", wantErr: errBadAuthorization},
		{raw: "Basic a.b.c", wantErr: errBadAuthorization},
		{raw: "Bearer abc", wantErr: errBadAuthorization},
		{raw: "Bearer a.b.c.d", wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		got, err := bearerTokenFromString(tt.raw)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("bearerTokenFromString(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("bearerTokenFromString(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestBearerTokenFromHeaderMissing(t *testing.T) {
	if _, err := bearerTokenFromHeader(http.Header{}); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing authorization, got %v", err)
	}
}

func TestRequireAuthAttachesSubject(t *testing.T) {
	tokens := auth.NewTokenService(auth.SigningKey{ID: "test", Secret: []byte("0123456789abcdef0123456789abcdef")})
	token, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/task", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var subject string
	handler := RequireAuth(tokens)(func(c echo.Context) error {
		subject = ownerFrom(c)
		return c.NoContent(http.StatusNoContent)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusNoContent || subject != "user-1" {
		t.Fatalf("unexpected result: status %d subject %q", rec.Code, subject)
	}
}

func TestRequireAuthRejectsOtherKey(t *testing.T) {
	issuer := auth.NewTokenService(auth.SigningKey{ID: "test", Secret: []byte("ffffffffffffffffffffffffffffffff")})
	verifier := auth.NewTokenService(auth.SigningKey{ID: "test", Secret: []byte("0123456789abcdef0123456789abcdef")})
	token, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/task", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	called := false
	handler := RequireAuth(verifier)(func(echo.Context) error {
		called = true
		return nil
	})
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected rejection, got status %d called=%v", rec.Code, called)
	}
}
