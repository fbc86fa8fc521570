package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"taskhub-api/auth"
	"taskhub-api/broadcast"
	"taskhub-api/domain"
	"taskhub-api/service"
	"taskhub-api/storage"
)

type testServer struct {
	e      *echo.Echo
	hub    *broadcast.Hub
	tokens *auth.TokenService
	hook   *test.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	store := storage.NewMemory()
	tokens := auth.NewTokenService(auth.SigningKey{ID: "test", Secret: []byte("0123456789abcdef0123456789abcdef")})
	hub := broadcast.NewHub(logger)
	users := service.NewUserService(store, tokens, bcrypt.MinCost, logger)
	tasks := service.NewTaskService(store, hub, logger)

	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	Register(e, users, tasks, tokens, hub, hub, 8, logger)
	return &testServer{e: e, hub: hub, tokens: tokens, hook: hook}
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Message string          `json:"message"`
	TokenID string          `json:"tokenid"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Status  string          `json:"status"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := sonic.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/user/register", `{"email":"a@b.com","password":"Str0ng!Pass"}`, "")
	expectStatus(t, rec, http.StatusCreated)
	registered := decode(t, rec)
	if registered.Message != "User registered successfully" || registered.TokenID == "" {
		t.Fatalf("unexpected register response: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "assword") {
		t.Fatalf("password material leaked: %s", rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/api/user/login", `{"email":"a@b.com","password":"Str0ng!Pass"}`, "")
	expectStatus(t, rec, http.StatusOK)
	login := decode(t, rec)
	if login.Message != "User logged in successfully" {
		t.Fatalf("unexpected login message: %s", login.Message)
	}
	userID, err := s.tokens.Verify(login.TokenID)
	if err != nil {
		t.Fatalf("login token does not verify: %v", err)
	}
	var user domain.User
	if err := sonic.Unmarshal(registered.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.ID != userID {
		t.Fatalf("login token subject %q does not match registered user %q", userID, user.ID)
	}
	token := login.TokenID

	sub := s.hub.Subscribe(8)
	defer sub.Close()

	rec = s.do(http.MethodPost, "/api/task", `{"title":"Buy milk"}`, token)
	expectStatus(t, rec, http.StatusOK)
	created := decode(t, rec)
	var task domain.Task
	if err := sonic.Unmarshal(created.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if created.Message != "Task created successfully" || task.Title != "Buy milk" || task.Completed || task.Owner != userID {
		t.Fatalf("unexpected created task: %s", rec.Body.String())
	}
	select {
	case ev := <-sub.Events():
		if ev.Name != domain.TaskCreated {
			t.Fatalf("expected %s event, got %s", domain.TaskCreated, ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("no taskCreated event")
	}

	rec = s.do(http.MethodGet, "/api/task", "", token)
	expectStatus(t, rec, http.StatusOK)
	var tasks []domain.Task
	if err := sonic.Unmarshal(decode(t, rec).Data, &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("unexpected task list: %s", rec.Body.String())
	}

	rec = s.do(http.MethodPut, "/api/task/"+task.ID, `{"completed":true}`, token)
	expectStatus(t, rec, http.StatusOK)
	if msg := decode(t, rec).Message; msg != "Task updated successfully" {
		t.Fatalf("unexpected update message: %s", msg)
	}

	rec = s.do(http.MethodGet, "/api/task/"+task.ID, "", token)
	expectStatus(t, rec, http.StatusOK)
	var fetched domain.Task
	if err := sonic.Unmarshal(decode(t, rec).Data, &fetched); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if !fetched.Completed || fetched.Title != "Buy milk" {
		t.Fatalf("update not applied: %+v", fetched)
	}

	rec = s.do(http.MethodDelete, "/api/task/"+task.ID, "", token)
	expectStatus(t, rec, http.StatusOK)
	if msg := decode(t, rec).Message; msg != "Task deleted successfully" {
		t.Fatalf("unexpected delete message: %s", msg)
	}

	rec = s.do(http.MethodGet, "/api/task", "", token)
	expectStatus(t, rec, http.StatusNotFound)
	if msg := decode(t, rec).Message; msg != "No tasks found" {
		t.Fatalf("unexpected empty list message: %s", msg)
	}

	rec = s.do(http.MethodDelete, "/api/task/"+task.ID, "", token)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestLoginFailuresShareMessage(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(http.MethodPost, "/api/user/register", `{"email":"a@b.com","password":"Str0ng!Pass"}`, ""), http.StatusCreated)

	wrong := s.do(http.MethodPost, "/api/user/login", `{"email":"a@b.com","password":"Wr0ng!Pass"}`, "")
	unknown := s.do(http.MethodPost, "/api/user/login", `{"email":"nobody@b.com","password":"Str0ng!Pass"}`, "")
	expectStatus(t, wrong, http.StatusBadRequest)
	expectStatus(t, unknown, http.StatusBadRequest)
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("login failures differ: %s vs %s", wrong.Body.String(), unknown.Body.String())
	}
}

func TestRegisterRejections(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		body    string
		message string
	}{
		{`{"email":"a@b.com"}`, "All fields must be filled"},
		{`{"email":"bad","password":"Str0ng!Pass"}`, "Email is not valid"},
		{`{"email":"a@b.com","password":"weak"}`, "Password is not strong enough"},
		{`{"email":`, msgInvalidBody},
	}
	for _, tc := range cases {
		rec := s.do(http.MethodPost, "/api/user/register", tc.body, "")
		expectStatus(t, rec, http.StatusBadRequest)
		if msg := decode(t, rec).Message; msg != tc.message {
			t.Fatalf("body %s: expected %q, got %q", tc.body, tc.message, msg)
		}
	}

	expectStatus(t, s.do(http.MethodPost, "/api/user/register", `{"email":"a@b.com","password":"Str0ng!Pass"}`, ""), http.StatusCreated)
	rec := s.do(http.MethodPost, "/api/user/register", `{"email":"a@b.com","password":"Str0ng!Pass"}`, "")
	expectStatus(t, rec, http.StatusBadRequest)
	if msg := decode(t, rec).Message; msg != "Email already exists" {
		t.Fatalf("unexpected duplicate message: %s", msg)
	}
}

func TestDeleteUserRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/user/register", `{"email":"a@b.com","password":"Str0ng!Pass"}`, "")
	expectStatus(t, rec, http.StatusCreated)
	var user domain.User
	if err := sonic.Unmarshal(decode(t, rec).Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}

	rec = s.do(http.MethodDelete, "/api/user/delete/"+user.ID, "", "")
	expectStatus(t, rec, http.StatusOK)
	if msg := decode(t, rec).Message; msg != "User deleted successfully" {
		t.Fatalf("unexpected message: %s", msg)
	}
	expectStatus(t, s.do(http.MethodDelete, "/api/user/delete/"+user.ID, "", ""), http.StatusNotFound)
}

func TestTaskRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/task", "", "")
	expectStatus(t, rec, http.StatusForbidden)
	env := decode(t, rec)
	if env.Status != "failed" || env.Message != "not an authorised user" {
		t.Fatalf("unexpected forbidden body: %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/task", "", "not.a.jwt")
	expectStatus(t, rec, http.StatusUnauthorized)
	env = decode(t, rec)
	if env.Status != "failed" || env.Message != "unauthorised user" || env.Error == "" {
		t.Fatalf("unexpected unauthorized body: %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/task", nil)
	req.Header.Set(echo.HeaderAuthorization, "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestMalformedTaskIDIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.Issue("8c7c5c62-4a4b-4f55-9d43-0c1d6fd0a001")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		body := ""
		if method == http.MethodPut {
			body = `{"title":"x"}`
		}
		rec := s.do(method, "/api/task/123", body, token)
		expectStatus(t, rec, http.StatusBadRequest)
		if msg := decode(t, rec).Message; msg != "No such task" {
			t.Fatalf("%s: unexpected message %q", method, msg)
		}
	}
}

func TestCreateTaskWithoutTitle(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.Issue("8c7c5c62-4a4b-4f55-9d43-0c1d6fd0a001")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec := s.do(http.MethodPost, "/api/task", `{"description":"no title"}`, token)
	expectStatus(t, rec, http.StatusBadRequest)
}

type brokenTasks struct{}

func (brokenTasks) Create(context.Context, string, domain.TaskInput) (*domain.Task, error) {
	return nil, errors.New("table unavailable")
}
func (brokenTasks) List(context.Context, string) ([]domain.Task, error) {
	return nil, errors.New("table unavailable")
}
func (brokenTasks) Get(context.Context, string, string) (*domain.Task, error) {
	return nil, errors.New("table unavailable")
}
func (brokenTasks) Update(context.Context, string, string, domain.TaskPatch) (*domain.Task, error) {
	return nil, errors.New("table unavailable")
}
func (brokenTasks) Delete(context.Context, string, string) (*domain.Task, error) {
	return nil, errors.New("table unavailable")
}

func TestServerFaultIncludesDetail(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tokens := auth.NewTokenService(auth.SigningKey{ID: "test", Secret: []byte("0123456789abcdef0123456789abcdef")})
	hub := broadcast.NewHub(logger)
	e := echo.New()
	Register(e, service.NewUserService(storage.NewMemory(), tokens, bcrypt.MinCost, logger), brokenTasks{}, tokens, hub, hub, 8, logger)

	token, err := tokens.Issue("8c7c5c62-4a4b-4f55-9d43-0c1d6fd0a001")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/task", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	expectStatus(t, rec, http.StatusInternalServerError)
	env := decode(t, rec)
	if env.Message != msgInternalError || env.Error != "table unavailable" {
		t.Fatalf("unexpected fault body: %s", rec.Body.String())
	}
	var sawFailure bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "request failed" && entry.Level == log.ErrorLevel {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected request failure to be logged")
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.NewError(domain.ErrValidation, "x"):         http.StatusBadRequest,
		domain.NewError(domain.ErrInvalidCredentials, "x"): http.StatusBadRequest,
		domain.NewError(domain.ErrConflict, "x"):           http.StatusBadRequest,
		auth.ErrExpiredToken:                               http.StatusUnauthorized,
		domain.ErrForbidden:                                http.StatusForbidden,
		domain.NewError(domain.ErrNotFound, "x"):           http.StatusNotFound,
		errors.New("boom"):                                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
