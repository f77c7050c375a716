package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agrihub.org/internal/audit"
	"agrihub.org/internal/auth"
	"agrihub.org/internal/identity"
	"agrihub.org/internal/obs"
)

// handleAddClient provisions a tenant through the saga. A saga failure has
// already been compensated by the time this responds 500; the root cause goes
// to the logs, not the caller.
func (a *API) handleAddClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleClients, auth.ActionCreate) {
		return
	}
	var tenant identity.Tenant
	if err := decodeJSON(w, r, &tenant); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && tenant.CreatedBy == "" {
		tenant.CreatedBy = claims.User.UserName
	}

	result, err := a.saga.Provision(r.Context(), &tenant)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, "invalid client payload")
			return
		}
		obs.LogRequest(map[string]any{
			"level":      "error",
			"msg":        "tenant provisioning failed",
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "failed to provision client")
		return
	}

	_ = audit.LogEvent(r.Context(), "tenant.provisioned", map[string]any{
		"client_id":     result.TenantID,
		"admin_created": result.AdminCreated,
	})

	resp := map[string]any{
		"status":        "success",
		"id":            result.TenantID,
		"admin_created": result.AdminCreated,
	}
	if result.AdminCreated {
		resp["message"] = fmt.Sprintf("Client added successfully with admin user (username: %s)", result.AdminUsername)
		resp["admin_username"] = result.AdminUsername
	} else {
		resp["message"] = "Client added successfully"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleClients, auth.ActionRead) {
		return
	}
	tenants, err := a.tenants.List(r.Context())
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (a *API) handleGetClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleClients, auth.ActionRead) {
		return
	}
	id := pathTail(r.URL.Path, "/get_client/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tenant, err := a.tenants.Get(r.Context(), id)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (a *API) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleClients, auth.ActionUpdate) {
		return
	}
	id := pathTail(r.URL.Path, "/update_client/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var tenant identity.Tenant
	if err := decodeJSON(w, r, &tenant); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && tenant.UpdatedBy == "" {
		tenant.UpdatedBy = claims.User.UserName
	}
	modified, err := a.tenants.Update(r.Context(), id, &tenant)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	msg := "No changes made"
	if modified {
		msg = "Client updated successfully"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": msg})
}

func (a *API) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleClients, auth.ActionDelete) {
		return
	}
	id := pathTail(r.URL.Path, "/delete_client/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	counts, err := a.tenants.Delete(r.Context(), id)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.deleted", map[string]any{
		"client_id":     id,
		"deleted_users": counts.Users,
		"deleted_roles": counts.Roles,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"message":        "Client, users, and roles deleted successfully",
		"deleted_counts": counts,
	})
}

func pathTail(path, prefix string) string {
	tail := strings.TrimPrefix(path, prefix)
	tail = strings.Trim(tail, "/")
	if strings.Contains(tail, "/") {
		return ""
	}
	return tail
}
