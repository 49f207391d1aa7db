package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/request"
	"github.com/congo-pay/walletledger/internal/response"
)

// Handler exposes registration, login and token refresh.
type Handler struct {
	ids    *identity.Service
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds the auth HTTP handler.
func NewHandler(ids *identity.Service, svc *Service, logger *slog.Logger) *Handler {
	return &Handler{ids: ids, svc: svc, logger: logger}
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	FirstName   string `json:"firstName" validate:"required"`
	LastName    string `json:"lastName" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type loginResponse struct {
	User identity.User `json:"user"`
	TokenPair
}

// Register creates a user account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if res, ok := request.Bind(c, &req); !ok {
		return response.Send(c, res)
	}
	return response.Send(c, h.ids.Register(c.UserContext(), identity.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	}))
}

// Login validates credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if res, ok := request.Bind(c, &req); !ok {
		return response.Send(c, res)
	}
	user, err := h.ids.Authenticate(c.UserContext(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return response.Send(c, response.Error("Invalid email address or password", http.StatusUnauthorized))
	}
	if err != nil {
		h.logger.ErrorContext(c.UserContext(), "login failed", slog.Any("error", err))
		return response.Send(c, response.Internal("Could not log in user"))
	}
	pair, err := h.svc.Issue(user)
	if err != nil {
		h.logger.ErrorContext(c.UserContext(), "issue tokens", slog.Any("error", err))
		return response.Send(c, response.Internal("Could not log in user"))
	}
	return response.Send(c, response.Success("User login successful", loginResponse{User: user, TokenPair: pair}))
}

// Refresh rotates a token pair using a valid refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if res, ok := request.Bind(c, &req); !ok {
		return response.Send(c, res)
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if errors.Is(err, ErrInvalidToken) {
		return response.Send(c, response.Error("Invalid refresh token", http.StatusUnauthorized))
	}
	if err != nil {
		h.logger.ErrorContext(c.UserContext(), "refresh failed", slog.Any("error", err))
		return response.Send(c, response.Internal("Could not refresh token"))
	}
	return response.Send(c, response.Success("Token refreshed successfully", pair))
}
