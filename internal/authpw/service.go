// Package authpw provides name/password authentication for readers.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/crypto/bcrypt"

	"annotext/internal/store"
	"annotext/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid name or password")
	ErrNameTaken          = errors.New("display name already registered")
	ErrAccountLocked      = errors.New("account locked")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByName(ctx context.Context, name string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service provides name/password authentication
type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	DisplayName string
	Email       string
	Password    string
}

func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Required, validation.Length(2, 64)),
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
}

// SignUp creates a new account and returns it.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := req.Validate(); err != nil {
		return store.User{}, err
	}

	_, err := s.store.GetUserByName(ctx, req.DisplayName)
	switch {
	case err == nil:
		return store.User{}, ErrNameTaken
	case !errors.Is(err, sql.ErrNoRows):
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks name and password. Unknown names and wrong passwords are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, name, password string) (store.User, error) {
	if strings.TrimSpace(name) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.Locked {
		return store.User{}, ErrAccountLocked
	}
	return user, nil
}
