package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/halcyon-sec/authgate/internal/auth"
)

// AuthService is what the handlers need from the auth layer. The
// interface keeps handlers testable without a database behind them.
type AuthService interface {
	Login(ctx context.Context, sourceAddr, username, password string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, token string) (*auth.LoginResult, error)
	Register(ctx context.Context, username, displayName, password string) (uuid.UUID, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	Authorize(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthHandler exposes the auth service over HTTP.
type AuthHandler struct {
	service AuthService
}

// NewAuthHandler creates a handler around the given service.
func NewAuthHandler(service AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}
