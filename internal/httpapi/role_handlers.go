package httpapi

import (
	"net/http"

	"agrihub.org/internal/audit"
	"agrihub.org/internal/auth"
	"agrihub.org/internal/identity"
)

// handleRoles serves /roles: POST creates a role, GET lists roles. A
// client_id query parameter scopes the listing to one tenant.
func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRole(w, r)
	case http.MethodGet:
		a.listRoles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ModuleRoles, auth.ActionCreate) {
		return
	}
	var role identity.Role
	if err := decodeJSON(w, r, &role); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role.SystemGenerated = false
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && role.CreatedBy == "" {
		role.CreatedBy = claims.User.UserName
	}
	id, err := a.roles.Create(r.Context(), &role)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.created", map[string]any{
		"role_id":   id,
		"name":      role.Name,
		"client_id": role.ClientID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Role added successfully",
		"id":      id,
	})
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ModuleRoles, auth.ActionRead) {
		return
	}
	roles, err := a.roles.ListByTenant(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// handleRoleResource serves /roles/{id}: GET, PUT, DELETE.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/roles/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getRole(w, r, id)
	case http.MethodPut:
		a.updateRole(w, r, id)
	case http.MethodDelete:
		a.deleteRole(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, auth.ModuleRoles, auth.ActionRead) {
		return
	}
	role, err := a.roles.Get(r.Context(), id)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

type roleUpdateRequest struct {
	ClientID    string     `json:"client_id"`
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Permissions *auth.Tree `json:"permissions"`
}

// updateRole patches the role document; when the name or the permission tree
// changes, the repository propagates the fresh copy onto every user holding
// the role before this responds.
func (a *API) updateRole(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, auth.ModuleRoles, auth.ActionUpdate) {
		return
	}
	var req roleUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	patch := identity.RolePatch{
		ClientID:    req.ClientID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		patch.UpdatedBy = claims.User.UserName
	}
	modified, err := a.roles.Update(r.Context(), id, patch)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if req.Permissions != nil {
		_ = audit.LogEvent(r.Context(), "role.permissions_updated", map[string]any{
			"role_id": id,
		})
	}
	msg := "No changes made"
	if modified {
		msg = "Role updated successfully"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": msg})
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, auth.ModuleRoles, auth.ActionDelete) {
		return
	}
	if err := a.roles.Delete(r.Context(), id); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.deleted", map[string]any{"role_id": id})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Role deleted successfully",
	})
}
