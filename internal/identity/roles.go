package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrihub.org/internal/auth"
	"agrihub.org/internal/obs"
	"agrihub.org/internal/store"
)

// Roles is the role repository. Role updates fan propagation out to every
// user holding a denormalized copy of the role's permission tree.
type Roles struct {
	store store.RecordStore
}

// NewRoles constructs the repository over the injected record store.
func NewRoles(rs store.RecordStore) *Roles {
	return &Roles{store: rs}
}

// RolePatch carries the mutable role fields for Update. Nil pointers leave
// the stored value untouched. A non-empty ClientID differing from the stored
// one is rejected: tenant association is immutable.
type RolePatch struct {
	ClientID    string
	Name        *string
	Description *string
	Permissions *auth.Tree
	UpdatedBy   string
}

// Create inserts a role and returns its id. An empty ClientID is allowed for
// system-wide roles.
func (r *Roles) Create(ctx context.Context, role *Role) (string, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return "", fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = now
	}
	doc, err := toDoc(role)
	if err != nil {
		return "", err
	}
	id, err := r.store.Insert(ctx, CollectionRoles, doc)
	if err != nil {
		return "", err
	}
	role.ID = id
	return id, nil
}

// Get returns the role by id.
func (r *Roles) Get(ctx context.Context, id string) (*Role, error) {
	doc, err := r.store.FindOne(ctx, CollectionRoles, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var role Role
	if err := fromDoc(doc, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// ListByTenant returns the tenant's roles; an empty clientID lists all roles.
func (r *Roles) ListByTenant(ctx context.Context, clientID string) ([]*Role, error) {
	filter := store.Filter{}
	if clientID != "" {
		filter["client_id"] = clientID
	}
	docs, err := r.store.Find(ctx, CollectionRoles, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(docs))
	for _, doc := range docs {
		var role Role
		if err := fromDoc(doc, &role); err != nil {
			return nil, err
		}
		out = append(out, &role)
	}
	return out, nil
}

// Update persists the patch, then propagates the new permission tree onto
// the denormalized role_permissions of every user referencing the role.
// The fan-out is N independent writes with no joint commit point: a crash
// mid-loop leaves some users stale until the next update. Individual write
// failures are logged and do not fail the call (eventual consistency is
// accepted here). Returns whether the role document itself changed.
func (r *Roles) Update(ctx context.Context, id string, patch RolePatch) (bool, error) {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if patch.ClientID != "" && patch.ClientID != existing.ClientID {
		return false, fmt.Errorf("%w: client_id cannot be modified", ErrInvalidInput)
	}

	set := store.Doc{"updated_dt": time.Now().UTC()}
	if patch.UpdatedBy != "" {
		set["updated_by"] = patch.UpdatedBy
	}
	roleName := existing.Name
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return false, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		set["name"] = name
		roleName = name
	}
	if patch.Description != nil {
		set["description"] = strings.TrimSpace(*patch.Description)
	}
	if patch.Permissions != nil {
		set["permissions"] = patch.Permissions.Clone()
	}

	n, err := r.store.Update(ctx, CollectionRoles, store.ByID(id), set)
	if err != nil {
		return false, err
	}

	if patch.Permissions != nil || patch.Name != nil {
		r.propagate(ctx, id, roleName, patch.Permissions)
	}
	return n > 0, nil
}

// propagate overwrites the denormalized copies held by users of the role.
func (r *Roles) propagate(ctx context.Context, roleID, roleName string, tree *auth.Tree) {
	users, err := r.store.Find(ctx, CollectionUsers, store.Filter{"role": roleID})
	if err != nil {
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "role propagation lookup failed",
			"role_id": roleID, "error": err.Error(),
		})
		return
	}
	for _, doc := range users {
		set := store.Doc{"role_name": roleName, "updated_dt": time.Now().UTC()}
		if tree != nil {
			set["role_permissions"] = tree.Clone()
		}
		userID, _ := doc[store.IDField].(string)
		if _, err := r.store.Update(ctx, CollectionUsers, store.ByID(userID), set); err != nil {
			obs.LogRequest(map[string]any{
				"level": "error", "msg": "role propagation write failed",
				"role_id": roleID, "user_id": userID, "error": err.Error(),
			})
		}
	}
}

// Delete removes the role by id. Users still referencing it keep their
// denormalized copy; only a later role update rewrites those.
func (r *Roles) Delete(ctx context.Context, id string) error {
	n, err := r.store.Delete(ctx, CollectionRoles, store.ByID(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
