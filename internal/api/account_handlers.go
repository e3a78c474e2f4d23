package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/halcyon-sec/authgate/internal/api/helpers"
	customMiddleware "github.com/halcyon-sec/authgate/internal/api/middleware"
	"github.com/halcyon-sec/authgate/internal/auth"
)

// ChangePasswordRequest is the expected JSON body for a password
// change. The current password is re-verified even though the request
// already carries a valid access token.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (req *ChangePasswordRequest) Validate() error {
	if req.CurrentPassword == "" {
		return fmt.Errorf("current password required")
	}
	if utf8.RuneCountInString(req.NewPassword) < 12 {
		return fmt.Errorf("new password must be at least 12 characters")
	}
	return nil
}

// ChangePassword replaces the caller's stored secret.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, err := customMiddleware.GetIdentity(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	err = h.service.ChangePassword(r.Context(), claims.Username, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			helpers.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		slog.Error("password_change_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "Password change failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MeResponse echoes the authenticated identity back to the client.
type MeResponse struct {
	PrincipalID string `json:"principal_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Me returns the claims of the presented token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := customMiddleware.GetIdentity(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, MeResponse{
		PrincipalID: claims.PrincipalID.String(),
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		ExpiresAt:   claims.ExpiresAt.Unix(),
	})
}
