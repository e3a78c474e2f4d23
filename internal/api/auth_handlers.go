package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/halcyon-sec/authgate/internal/api/helpers"
	"github.com/halcyon-sec/authgate/internal/auth"
)

// LoginRequest is the expected JSON body for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (req *LoginRequest) Validate() error {
	if req.Username == "" || req.Password == "" {
		return fmt.Errorf("username and password required")
	}
	return nil
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Login authenticates a password and returns a token pair. Denials stay
// generic: unknown username, wrong password and every token problem all
// read the same from outside.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("login_bad_body", "ip", helpers.GetRealIP(r), "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Validation failed")
		return
	}

	result, err := h.service.Login(r.Context(), helpers.GetRealIP(r), req.Username, req.Password)
	if err != nil {
		h.respondLoginError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, TokenResponse{
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
	})
}

func (h *AuthHandler) respondLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *auth.RateLimitedError
	switch {
	case errors.As(err, &limited):
		retryAfter := int(limited.RetryAfter.Seconds() + 0.5)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		helpers.RespondError(w, http.StatusTooManyRequests, "Too many attempts")
	case errors.Is(err, auth.ErrInvalidCredentials):
		helpers.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, auth.ErrStorageUnavailable):
		slog.Error("login_storage_unavailable", "error", err)
		helpers.RespondError(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		slog.Error("login_internal_error", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "Login failed")
	}
}

// RefreshRequest is the expected JSON body for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated and keeps its original expiration.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		// Expired, malformed, bad signature, wrong scope: one response.
		slog.Warn("refresh_rejected", "reason", err, "ip", helpers.GetRealIP(r))
		helpers.RespondError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, TokenResponse{
		Token:     result.AccessToken,
		ExpiresAt: result.ExpiresAt,
	})
}

// RegisterRequest is the expected JSON body for registration.
type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (req *RegisterRequest) Validate() error {
	if req.Username == "" {
		return fmt.Errorf("username required")
	}
	if len(req.Username) > 100 {
		return fmt.Errorf("username too long (max 100 chars)")
	}
	if utf8.RuneCountInString(req.Password) < 12 {
		return fmt.Errorf("password must be at least 12 characters")
	}
	if len(req.DisplayName) > 100 {
		return fmt.Errorf("display name too long (max 100 chars)")
	}
	return nil
}

// Register creates a new principal with a salted credential record.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	principalID, err := h.service.Register(r.Context(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			helpers.RespondError(w, http.StatusConflict, "Username already registered")
			return
		}
		slog.Error("register_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]string{
		"principal_id": principalID.String(),
	})
}
