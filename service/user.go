package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskhub-api/domain"
)

const (
	msgFieldsRequired     = "All fields must be filled"
	msgInvalidEmail       = "Email is not valid"
	msgWeakPassword       = "Password is not strong enough"
	msgEmailExists        = "Email already exists"
	msgInvalidCredentials = "Invalid email or password"
	msgUserNotFound       = "User not found"
)

// UserService registers users and exchanges credentials for tokens.
type UserService struct {
	users  UserStore
	tokens TokenIssuer
	cost   int
	logger *log.Logger

	// dummyHash is compared against when the email is unknown so both login
	// failures cost the same bcrypt work.
	dummyHash []byte
}

// NewUserService creates a UserService hashing passwords with the given bcrypt cost.
func NewUserService(users UserStore, tokens TokenIssuer, cost int, logger *log.Logger) *UserService {
	if users == nil || tokens == nil || logger == nil {
		panic("service.NewUserService: missing dependency")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		panic(fmt.Sprintf("service.NewUserService: %v", err))
	}
	return &UserService{users: users, tokens: tokens, cost: cost, logger: logger, dummyHash: dummy}
}

// Register creates an account and returns it with a freshly issued token.
func (s *UserService) Register(ctx context.Context, email, password string) (*domain.User, string, error) {
	if email == "" || password == "" {
		return nil, "", domain.NewError(domain.ErrValidation, msgFieldsRequired)
	}
	if !validEmail(email) {
		return nil, "", domain.NewError(domain.ErrValidation, msgInvalidEmail)
	}
	if !strongPassword(password) {
		return nil, "", domain.NewError(domain.ErrValidation, msgWeakPassword)
	}

	if _, err := s.users.FindUserByEmail(ctx, email); err == nil {
		return nil, "", domain.NewError(domain.ErrConflict, msgEmailExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("find user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{ID: uuid.NewString(), Email: email, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, "", domain.WrapError(domain.ErrConflict, msgEmailExists, err)
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Info("user registered")
	return user, token, nil
}

// Login verifies the credentials and returns the user with a new token. An
// unknown email and a wrong password produce the same error.
func (s *UserService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	if email == "" || password == "" {
		return nil, "", domain.NewError(domain.ErrValidation, msgFieldsRequired)
	}

	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, "", domain.NewError(domain.ErrInvalidCredentials, msgInvalidCredentials)
		}
		return nil, "", fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", domain.NewError(domain.ErrInvalidCredentials, msgInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Delete removes the user with the given id.
func (s *UserService) Delete(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewError(domain.ErrNotFound, msgUserNotFound)
	}
	user, err := s.users.DeleteUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.WrapError(domain.ErrNotFound, msgUserNotFound, err)
		}
		return nil, fmt.Errorf("delete user: %w", err)
	}
	s.logger.WithField("user_id", id).Info("user deleted")
	return user, nil
}
