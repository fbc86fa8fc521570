package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub-api/broadcast"
)

const (
	heartbeatInterval = 15 * time.Second
	maxIntentSize     = 64 << 10
)

// streamEvents serves the hub as a Server-Sent Events stream until the
// client goes away.
func streamEvents(hub *broadcast.Hub, buffer int, heartbeat time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		sub := hub.Subscribe(buffer)
		defer sub.Close()

		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()
		logger.WithField("subscribers", hub.Subscribers()).Debug("event stream opened")

		ctx := c.Request().Context()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return nil
				}
				if _, err := c.Response().Write(formatEvent(ev)); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				logger.Debug("event stream closed")
				return nil
			}
		}
	}
}

// formatEvent renders ev as an SSE frame. Multi-line payloads are split over
// several data lines, which clients join back with newlines.
func formatEvent(ev broadcast.Event) []byte {
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(ev.Name)
	buf.WriteByte('\n')
	for _, line := range bytes.Split(ev.Data, []byte{'\n'}) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte{'\r'}))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// postIntent accepts a client intent and echoes it to every subscriber.
func postIntent(pub broadcast.Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIntentSize+1))
		if err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
		}
		if len(body) > maxIntentSize {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "Intent payload too large"})
		}
		body = bytes.TrimSpace(body)
		switch err := broadcast.HandleIntent(c.Request().Context(), pub, c.Param("intent"), body); {
		case errors.Is(err, broadcast.ErrUnknownIntent):
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "Unknown intent"})
		case err != nil:
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
		}
		return c.NoContent(http.StatusAccepted)
	}
}
