package api

import (
	"context"

	"taskhub-api/domain"
)

// UserService is the credential management surface used by the user routes.
type UserService interface {
	Register(ctx context.Context, email, password string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	Delete(ctx context.Context, id string) (*domain.User, error)
}

// TaskService is the task surface used by the task routes. Every call is made
// on behalf of the authenticated owner.
type TaskService interface {
	Create(ctx context.Context, owner string, in domain.TaskInput) (*domain.Task, error)
	List(ctx context.Context, owner string) ([]domain.Task, error)
	Get(ctx context.Context, owner, id string) (*domain.Task, error)
	Update(ctx context.Context, owner, id string, patch domain.TaskPatch) (*domain.Task, error)
	Delete(ctx context.Context, owner, id string) (*domain.Task, error)
}

// TokenVerifier resolves a bearer token to the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type messageResponse struct {
	Message string `json:"message"`
}

type dataResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type tokenResponse struct {
	Message string       `json:"message"`
	TokenID string       `json:"tokenid"`
	Data    *domain.User `json:"data"`
}

type faultResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type authFailure struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
