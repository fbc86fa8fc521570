package api

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub-api/broadcast"
	"taskhub-api/domain"
)

const (
	maxBodySize    = 1 << 20
	msgInvalidBody = "Invalid request body"

	taskRoute   = "/api/task"
	taskIDRoute = "/api/task/:id"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, users UserService, tasks TaskService, tokens TokenVerifier, hub *broadcast.Hub, pub broadcast.Publisher, eventBuffer int, logger *log.Logger) {
	h := &handlers{users: users, tasks: tasks, logger: logger}

	e.POST("/api/user/register", h.register)
	e.POST("/api/user/login", h.login)
	e.DELETE("/api/user/delete/:id", h.deleteUser)

	g := e.Group(taskRoute, RequireAuth(tokens))
	g.POST("", h.instrument("create", taskRoute, h.createTask))
	g.GET("", h.instrument("list", taskRoute, h.listTasks))
	g.GET("/:id", h.instrument("get", taskIDRoute, h.getTask))
	g.PUT("/:id", h.instrument("update", taskIDRoute, h.updateTask))
	g.DELETE("/:id", h.instrument("delete", taskIDRoute, h.deleteTask))

	e.GET("/api/events", streamEvents(hub, eventBuffer, heartbeatInterval, logger))
	e.POST("/api/events/:intent", postIntent(pub))
	e.GET("/healthz", healthz(hub))
}

type handlers struct {
	users  UserService
	tasks  TaskService
	logger *log.Logger
}

func healthz(hub *broadcast.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		delivered, dropped := hub.Stats()
		return c.JSON(http.StatusOK, map[string]any{
			"status":      "ok",
			"subscribers": hub.Subscribers(),
			"delivered":   delivered,
			"dropped":     dropped,
		})
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) register(c echo.Context) error {
	var in credentials
	if err := decodeBody(c, &in); err != nil {
		return writeError(c, h.logger, err)
	}
	user, token, err := h.users.Register(c.Request().Context(), in.Email, in.Password)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, tokenResponse{Message: "User registered successfully", TokenID: token, Data: user})
}

func (h *handlers) login(c echo.Context) error {
	var in credentials
	if err := decodeBody(c, &in); err != nil {
		return writeError(c, h.logger, err)
	}
	user, token, err := h.users.Login(c.Request().Context(), in.Email, in.Password)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, tokenResponse{Message: "User logged in successfully", TokenID: token, Data: user})
}

func (h *handlers) deleteUser(c echo.Context) error {
	user, err := h.users.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, dataResponse{Message: "User deleted successfully", Data: user})
}

type taskHandler func(c echo.Context, m *taskRequestMetrics) error

// instrument runs a task handler inside a request span. Errors returned by
// the handler are rendered here so the metrics see the final status.
func (h *handlers) instrument(op, route string, next taskHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newTaskRequestMetrics(c.Request().Context(), h.logger, op, route)
		c.SetRequest(c.Request().WithContext(ctx))
		if d, ok := c.Get(authDurationKey).(time.Duration); ok {
			metrics.ObserveAuth(d)
		}

		err := next(c, metrics)
		if err == nil {
			metrics.Log(c.Response().Status, nil)
			return nil
		}
		if metrics.errorStage == "" {
			metrics.SetErrorStage("service")
		}
		if c.Response().Committed {
			metrics.Log(c.Response().Status, err)
			return err
		}
		writeErr := writeError(c, h.logger, err)
		metrics.Log(c.Response().Status, err)
		return writeErr
	}
}

func (h *handlers) createTask(c echo.Context, m *taskRequestMetrics) error {
	var in domain.TaskInput
	if err := decodeBody(c, &in); err != nil {
		m.SetErrorStage("decode_request")
		return err
	}
	start := time.Now()
	task, err := h.tasks.Create(c.Request().Context(), ownerFrom(c), in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return err
	}
	return encode(c, m, dataResponse{Message: "Task created successfully", Data: task})
}

func (h *handlers) listTasks(c echo.Context, m *taskRequestMetrics) error {
	start := time.Now()
	tasks, err := h.tasks.List(c.Request().Context(), ownerFrom(c))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return err
	}
	m.SetTasksReturned(len(tasks))
	return encode(c, m, dataResponse{Message: "success", Data: tasks})
}

func (h *handlers) getTask(c echo.Context, m *taskRequestMetrics) error {
	start := time.Now()
	task, err := h.tasks.Get(c.Request().Context(), ownerFrom(c), c.Param("id"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return err
	}
	m.SetTasksReturned(1)
	return encode(c, m, dataResponse{Message: "success", Data: task})
}

func (h *handlers) updateTask(c echo.Context, m *taskRequestMetrics) error {
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		m.SetErrorStage("decode_request")
		return err
	}
	start := time.Now()
	task, err := h.tasks.Update(c.Request().Context(), ownerFrom(c), c.Param("id"), patch)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return err
	}
	return encode(c, m, dataResponse{Message: "Task updated successfully", Data: task})
}

func (h *handlers) deleteTask(c echo.Context, m *taskRequestMetrics) error {
	start := time.Now()
	task, err := h.tasks.Delete(c.Request().Context(), ownerFrom(c), c.Param("id"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return err
	}
	return encode(c, m, dataResponse{Message: "Task deleted successfully", Data: task})
}

func encode(c echo.Context, m *taskRequestMetrics, body any) error {
	start := time.Now()
	err := c.JSON(http.StatusOK, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

// decodeBody reads at most maxBodySize bytes of JSON into v. An empty body
// leaves v untouched so the service reports the missing fields.
func decodeBody(c echo.Context, v any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return domain.WrapError(domain.ErrValidation, msgInvalidBody, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(body, v); err != nil {
		return domain.WrapError(domain.ErrValidation, msgInvalidBody, err)
	}
	return nil
}
