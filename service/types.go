package service

import (
	"context"

	"taskhub-api/domain"
)

// UserStore persists user records. Lookups report domain.ErrNotFound when
// nothing matches and CreateUser reports domain.ErrConflict for a taken id or email.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) (*domain.User, error)
}

// TaskStore persists tasks. Every lookup except UpdateTask is scoped by owner.
type TaskStore interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	FindTasks(ctx context.Context, owner string) ([]domain.Task, error)
	FindTask(ctx context.Context, id, owner string) (*domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	DeleteTask(ctx context.Context, id, owner string) (*domain.Task, error)
}

// TokenIssuer issues identity tokens for user ids.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}
