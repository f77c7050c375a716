package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"agrihub.org/internal/audit"
	"agrihub.org/internal/auth"
	"agrihub.org/internal/identity"
	"agrihub.org/internal/store"
)

type createUserRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
	RoleID   string `json:"role"`
}

// handleUsers serves POST /users.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleUsers, auth.ActionCreate) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := identity.User{
		UserName: req.UserName,
		Email:    req.Email,
		ClientID: req.ClientID,
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		user.CreatedBy = claims.User.UserName
	}

	// Resolve the role up front so the denormalized copy lands with the
	// insert rather than in a second write.
	if req.RoleID != "" {
		role, err := a.roles.Get(r.Context(), req.RoleID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, r, http.StatusBadRequest, "role not found")
				return
			}
			handleIdentityError(w, r, err)
			return
		}
		user.RoleID = role.ID
		user.RoleName = role.Name
		user.RolePermissions = role.Permissions.Clone()
	}

	id, err := a.users.Create(r.Context(), &user, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "user.created", map[string]any{
		"user_id":   id,
		"user_name": user.UserName,
		"client_id": user.ClientID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "User added successfully",
		"id":      id,
	})
}

// handleUserResource serves /users/{id}: GET lists a tenant's users (the path
// segment is the client id, matching the original API shape), PUT patches a
// user, DELETE removes one.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/users/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.listTenantUsers(w, r, id)
	case http.MethodPut:
		a.updateUser(w, r, id)
	case http.MethodDelete:
		a.deleteUser(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listTenantUsers(w http.ResponseWriter, r *http.Request, clientID string) {
	if !a.requirePermission(w, r, auth.ModuleUsers, auth.ActionRead) {
		return
	}
	users, err := a.users.ListByTenant(r.Context(), clientID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	// Hashes never leave the service.
	for _, u := range users {
		u.PasswordHash = ""
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, userID string) {
	if !a.requirePermission(w, r, auth.ModuleUsers, auth.ActionUpdate) {
		return
	}
	var set store.Doc
	if err := decodeJSON(w, r, &set); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(set) == 0 {
		writeError(w, r, http.StatusBadRequest, "no fields to update")
		return
	}

	// A role change re-resolves the role and refreshes the denormalized copy.
	if raw, ok := set["role"]; ok {
		roleID, _ := raw.(string)
		if roleID == "" {
			writeError(w, r, http.StatusBadRequest, "role must be a non-empty id")
			return
		}
		role, err := a.roles.Get(r.Context(), roleID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, r, http.StatusBadRequest, "role not found")
				return
			}
			handleIdentityError(w, r, err)
			return
		}
		set["role"] = role.ID
		set["role_name"] = role.Name
		set["role_permissions"] = role.Permissions.Clone()
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		set["updated_by"] = claims.User.UserName
	}

	modified, err := a.users.Update(r.Context(), userID, set)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	msg := "No changes made"
	if modified {
		msg = "User updated successfully"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": msg})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, userID string) {
	if !a.requirePermission(w, r, auth.ModuleUsers, auth.ActionDelete) {
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		// Self-deletion would orphan the session mid-flight.
		if user, err := a.users.Get(r.Context(), userID); err == nil &&
			strings.EqualFold(user.UserName, claims.User.UserName) &&
			user.ClientID == claims.User.ClientID {
			writeError(w, r, http.StatusBadRequest, "cannot delete your own account")
			return
		}
	}
	if err := a.users.Delete(r.Context(), userID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.deleted", map[string]any{"user_id": userID})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "User deleted successfully",
	})
}
