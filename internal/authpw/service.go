// Package authpw provides email/password credential checks. Passwords are
// stored only as bcrypt hashes.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"compass/api/internal/rbac"
	"compass/api/internal/store"
	"compass/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrEmailTaken         = errors.New("email already registered")
)

// ValidationError reports a rejected user-creation request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignIn verifies credentials. The same error is returned for a missing
// user and a wrong password so the response does not reveal which failed.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrAccountDisabled
	}
	return user, nil
}

// CreateUserRequest contains admin user-creation parameters.
type CreateUserRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// CreateUser creates an account. Only seeding and admin handlers reach
// this; there is no self-service sign-up.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" || strings.TrimSpace(req.DisplayName) == "" {
		return store.User{}, &ValidationError{Message: "email, password, and display name are required"}
	}
	if len(req.Password) < 8 {
		return store.User{}, &ValidationError{Message: "password must be at least 8 characters"}
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(rbac.Normalize(req.Role)),
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// HashPassword is used by the seeder to build fixture users.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
