package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"taskhub-api/auth"
)

const authDurationKey = "auth_duration"

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "bearer "

// RequireAuth rejects requests without a valid bearer token. A request with
// no Authorization header at all is forbidden; a header that does not carry a
// verifiable token is unauthorized. On success the token subject is attached
// to the request context.
func RequireAuth(tokens TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			token, err := bearerTokenFromHeader(c.Request().Header)
			if errors.Is(err, errMissingAuthorization) {
				return c.JSON(http.StatusForbidden, authFailure{Status: "failed", Message: "not an authorised user"})
			}
			var userID string
			if err == nil {
				userID, err = tokens.Verify(token)
			}
			c.Set(authDurationKey, time.Since(start))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, authFailure{Status: "failed", Message: "unauthorised user", Error: err.Error()})
			}
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithSubject(req.Context(), userID)))
			return next(c)
		}
	}
}

func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 || values[0] == "" {
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

// bearerTokenFromString accepts "Bearer <jwt>" with a case-insensitive scheme
// and a token of three dot-separated segments.
func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return "", errBadAuthorization
	}
	token := strings.TrimSpace(trimmed[len(bearerPrefix):])
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

func ownerFrom(c echo.Context) string {
	id, _ := auth.SubjectFromContext(c.Request().Context())
	return id
}
