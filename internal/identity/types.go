// Package identity holds the tenant, user and role repositories. Each
// repository owns one collection of the injected record store; the wire field
// names (client_id, user_name, role_permissions, ...) are the ones the rest
// of the system and the token claims use.
package identity

import (
	"encoding/json"
	"errors"
	"time"

	"agrihub.org/internal/auth"
	"agrihub.org/internal/store"
)

// Collections used by the identity repositories. Tenants are called clients
// on the wire.
const (
	CollectionTenants = "clients"
	CollectionUsers   = "users"
	CollectionRoles   = "roles"
)

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: resource conflict")
	ErrInvalidInput = errors.New("identity: invalid input")
)

// Tenant is an isolated customer organization. All users, roles and domain
// records are scoped to one.
type Tenant struct {
	ID          string    `json:"_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ClientCode  string    `json:"client_code,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_dt,omitzero"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_dt,omitzero"`
}

// Role groups a permission tree under a tenant. An empty ClientID marks a
// system-wide role. The tenant association is immutable once created.
type Role struct {
	ID              string    `json:"_id,omitempty"`
	ClientID        string    `json:"client_id,omitempty"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	SystemGenerated bool      `json:"is_system_generated,omitempty"`
	Permissions     auth.Tree `json:"permissions,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_dt,omitzero"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_dt,omitzero"`
}

// User belongs to exactly one tenant. RoleName and RolePermissions are a
// denormalized copy of the linked role, refreshed by the role repository on
// every role update.
type User struct {
	ID              string    `json:"_id,omitempty"`
	UserName        string    `json:"user_name"`
	Email           string    `json:"email,omitempty"`
	PasswordHash    string    `json:"password,omitempty"`
	ClientID        string    `json:"client_id"`
	SystemGenerated bool      `json:"is_system_generated,omitempty"`
	RoleID          string    `json:"role,omitempty"`
	RoleName        string    `json:"role_name,omitempty"`
	RolePermissions auth.Tree `json:"role_permissions,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_dt,omitzero"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_dt,omitzero"`
}

func toDoc(v any) (store.Doc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc store.Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc store.Doc, dst any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
