package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub-api/domain"
)

const msgInternalError = "Internal server error"

// statusFor maps a service error onto the HTTP status reported to clients.
// Bad credentials and duplicate emails are reported as 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON failure body. Unclassified errors are
// logged and returned as 500 together with their detail.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
		return c.JSON(status, faultResponse{Message: msgInternalError, Error: err.Error()})
	}
	return c.JSON(status, messageResponse{Message: domain.MessageOf(err, http.StatusText(status))})
}
