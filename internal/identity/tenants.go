package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrihub.org/internal/store"
)

// Tenants is the tenant repository.
type Tenants struct {
	store store.RecordStore
}

// NewTenants constructs the repository over the injected record store.
func NewTenants(rs store.RecordStore) *Tenants {
	return &Tenants{store: rs}
}

// CascadeCounts reports how many documents a cascading tenant delete removed
// from each collection.
type CascadeCounts struct {
	Tenants int64 `json:"clients"`
	Users   int64 `json:"users"`
	Roles   int64 `json:"roles"`
}

// Create inserts a tenant and returns its id.
func (t *Tenants) Create(ctx context.Context, tenant *Tenant) (string, error) {
	tenant.Name = strings.TrimSpace(tenant.Name)
	if tenant.Name == "" {
		return "", fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	tenant.ClientCode = strings.TrimSpace(tenant.ClientCode)
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	if tenant.UpdatedAt.IsZero() {
		tenant.UpdatedAt = now
	}
	doc, err := toDoc(tenant)
	if err != nil {
		return "", err
	}
	id, err := t.store.Insert(ctx, CollectionTenants, doc)
	if err != nil {
		return "", err
	}
	tenant.ID = id
	return id, nil
}

// Get returns the tenant by id.
func (t *Tenants) Get(ctx context.Context, id string) (*Tenant, error) {
	doc, err := t.store.FindOne(ctx, CollectionTenants, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var tenant Tenant
	if err := fromDoc(doc, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindByCode looks a tenant up by its client code, case-insensitively.
func (t *Tenants) FindByCode(ctx context.Context, code string) (*Tenant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: client code is required", ErrInvalidInput)
	}
	doc, err := t.store.FindOne(ctx, CollectionTenants, store.Filter{
		"client_code": store.Fold(code),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var tenant Tenant
	if err := fromDoc(doc, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// List returns every tenant, oldest first.
func (t *Tenants) List(ctx context.Context) ([]*Tenant, error) {
	docs, err := t.store.Find(ctx, CollectionTenants, store.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]*Tenant, 0, len(docs))
	for _, doc := range docs {
		var tenant Tenant
		if err := fromDoc(doc, &tenant); err != nil {
			return nil, err
		}
		out = append(out, &tenant)
	}
	return out, nil
}

// Update rewrites the mutable tenant fields and reports whether a document
// changed.
func (t *Tenants) Update(ctx context.Context, id string, tenant *Tenant) (bool, error) {
	if _, err := t.Get(ctx, id); err != nil {
		return false, err
	}
	set := store.Doc{
		"name":        strings.TrimSpace(tenant.Name),
		"description": tenant.Description,
		"updated_by":  tenant.UpdatedBy,
		"updated_dt":  time.Now().UTC(),
	}
	n, err := t.store.Update(ctx, CollectionTenants, store.ByID(id), set)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the tenant and cascades to its users and roles, returning
// per-collection counts for observability.
func (t *Tenants) Delete(ctx context.Context, id string) (CascadeCounts, error) {
	if _, err := t.Get(ctx, id); err != nil {
		return CascadeCounts{}, err
	}
	var counts CascadeCounts
	scoped := store.Filter{"client_id": id}

	users, err := t.store.Delete(ctx, CollectionUsers, scoped)
	if err != nil {
		return counts, err
	}
	counts.Users = users

	roles, err := t.store.Delete(ctx, CollectionRoles, scoped)
	if err != nil {
		return counts, err
	}
	counts.Roles = roles

	tenants, err := t.store.Delete(ctx, CollectionTenants, store.ByID(id))
	if err != nil {
		return counts, err
	}
	counts.Tenants = tenants
	return counts, nil
}
