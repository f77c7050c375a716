package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrihub.org/internal/auth"
	"agrihub.org/internal/store"
)

// Users is the user repository.
type Users struct {
	store store.RecordStore
}

// NewUsers constructs the repository over the injected record store.
func NewUsers(rs store.RecordStore) *Users {
	return &Users{store: rs}
}

// Create hashes the password and inserts the user. Usernames are unique per
// tenant, case-insensitively; a duplicate yields ErrConflict. The existence
// check is check-then-act — under concurrent writers it is best-effort, not a
// guarantee (the store has no unique constraint to lean on).
func (u *Users) Create(ctx context.Context, user *User, password string) (string, error) {
	user.UserName = strings.TrimSpace(user.UserName)
	if user.UserName == "" {
		return "", fmt.Errorf("%w: user_name is required", ErrInvalidInput)
	}
	if user.ClientID == "" {
		return "", fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	}
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	_, err := u.store.FindOne(ctx, CollectionUsers, store.Filter{
		"client_id": user.ClientID,
		"user_name": store.Fold(user.UserName),
	})
	if err == nil {
		return "", fmt.Errorf("%w: username already exists", ErrConflict)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	user.PasswordHash = hash
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	doc, err := toDoc(user)
	if err != nil {
		return "", err
	}
	id, err := u.store.Insert(ctx, CollectionUsers, doc)
	if err != nil {
		return "", err
	}
	user.ID = id
	return id, nil
}

// FindByCredentials looks the user up by username (case-insensitive) and
// verifies the password. Unknown user and wrong password both come back as
// auth.ErrAuthFailed so the login endpoint cannot enumerate usernames.
func (u *Users) FindByCredentials(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, auth.ErrAuthFailed
	}
	doc, err := u.store.FindOne(ctx, CollectionUsers, store.Filter{
		"user_name": store.Fold(username),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrAuthFailed
		}
		return nil, err
	}
	var user User
	if err := fromDoc(doc, &user); err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, auth.ErrAuthFailed
	}
	return &user, nil
}

// Get returns the user by id.
func (u *Users) Get(ctx context.Context, id string) (*User, error) {
	doc, err := u.store.FindOne(ctx, CollectionUsers, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var user User
	if err := fromDoc(doc, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListByTenant returns every user scoped to the tenant.
func (u *Users) ListByTenant(ctx context.Context, clientID string) ([]*User, error) {
	docs, err := u.store.Find(ctx, CollectionUsers, store.Filter{"client_id": clientID})
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(docs))
	for _, doc := range docs {
		var user User
		if err := fromDoc(doc, &user); err != nil {
			return nil, err
		}
		out = append(out, &user)
	}
	return out, nil
}

// Update merges the given fields into the user document. A non-empty
// password value is rehashed before storage; _id can never be rewritten.
func (u *Users) Update(ctx context.Context, id string, set store.Doc) (bool, error) {
	if _, err := u.Get(ctx, id); err != nil {
		return false, err
	}
	patch := make(store.Doc, len(set)+1)
	for k, v := range set {
		if k == store.IDField {
			continue
		}
		patch[k] = v
	}
	if raw, ok := patch["password"]; ok {
		pw, _ := raw.(string)
		if pw == "" {
			delete(patch, "password")
		} else {
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return false, err
			}
			patch["password"] = hash
		}
	}
	patch["updated_dt"] = time.Now().UTC()
	n, err := u.store.Update(ctx, CollectionUsers, store.ByID(id), patch)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LinkRole writes the role's id, name and permission tree onto the user
// record (the denormalized copy tokens are minted from).
func (u *Users) LinkRole(ctx context.Context, userID string, role *Role) error {
	n, err := u.store.Update(ctx, CollectionUsers, store.ByID(userID), store.Doc{
		"role":             role.ID,
		"role_name":        role.Name,
		"role_permissions": role.Permissions.Clone(),
		"updated_dt":       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the user by id.
func (u *Users) Delete(ctx context.Context, id string) error {
	n, err := u.store.Delete(ctx, CollectionUsers, store.ByID(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
