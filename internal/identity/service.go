package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/walletledger/internal/response"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email address or password")

// Service manages the user lifecycle.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) response.Response {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return response.BadRequest(fmt.Sprintf("User with email %s already exists", email))
	} else if !errors.Is(err, ErrUserNotFound) {
		return s.internal(ctx, "Could not register user", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return s.internal(ctx, "Could not register user", err)
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PhoneNumber:  in.PhoneNumber,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return response.BadRequest(fmt.Sprintf("User with email %s already exists", email))
		}
		return s.internal(ctx, "Could not register user", err)
	}

	return response.Created("User Registration Successful", user)
}

// Authenticate verifies an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID resolves a user from its identifier.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) internal(ctx context.Context, msg string, err error) response.Response {
	s.logger.ErrorContext(ctx, msg, slog.Any("error", err))
	return response.Internal(fmt.Sprintf("%s: %v", msg, err))
}
