package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"agrihub.org/internal/audit"
	"agrihub.org/internal/auth"
)

type loginUser struct {
	UserName        string    `json:"user_name"`
	ClientID        string    `json:"client_id"`
	RoleName        string    `json:"role_name"`
	RolePermissions auth.Tree `json:"role_permissions"`
}

type loginResponse struct {
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ClientName   string    `json:"client_name,omitempty"`
	ClientCode   string    `json:"client_code,omitempty"`
	User         loginUser `json:"user"`
}

// handleLogin authenticates form-encoded credentials and mints an
// access/refresh token pair carrying the user's permission snapshot.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.users.FindByCredentials(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailed) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"user_name": username,
			})
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "authentication error")
		return
	}

	// Tenant display info is best-effort; login must not fail on it.
	var clientName, clientCode string
	if user.ClientID != "" {
		if tenant, err := a.tenants.Get(r.Context(), user.ClientID); err == nil {
			clientName = tenant.Name
			clientCode = tenant.ClientCode
		}
	}

	claims := auth.UserClaims{
		UserName:    user.UserName,
		ClientID:    user.ClientID,
		Permissions: user.RolePermissions,
	}
	accessToken, _, err := a.codec.Issue(claims, auth.KindAccess)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	refreshToken, _, err := a.codec.Issue(claims, auth.KindRefresh)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_name": user.UserName,
		"client_id": user.ClientID,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Status:       "success",
		Message:      "Valid user",
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ClientName:   clientName,
		ClientCode:   clientCode,
		User: loginUser{
			UserName:        user.UserName,
			ClientID:        user.ClientID,
			RoleName:        user.RoleName,
			RolePermissions: user.RolePermissions,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefreshToken exchanges a refresh token for a fresh access token. The
// permission snapshot travels with the refresh token: role changes made since
// login stay invisible until a full re-login.
func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := a.codec.Verify(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	accessToken, expiresAt, err := a.codec.Issue(claims.User, auth.KindAccess)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"access_token": accessToken,
		"expires_at":   expiresAt.Format(time.RFC3339),
	})
}
