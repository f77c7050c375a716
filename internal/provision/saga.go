// Package provision bootstraps a tenant together with its first
// administrative identity. The record store offers no multi-document
// transaction, so the pipeline is run as a saga: each completed step pushes a
// compensating action, and any failure unwinds the log in LIFO order.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrihub.org/internal/auth"
	"agrihub.org/internal/identity"
	"agrihub.org/internal/obs"
)

// State tracks saga progress. FAILED is reachable from every non-DONE state.
type State string

const (
	StateTenantCreated    State = "TENANT_CREATED"
	StateAdminUserCreated State = "ADMIN_USER_CREATED"
	StateAdminRoleCreated State = "ADMIN_ROLE_CREATED"
	StateRoleLinked       State = "ROLE_LINKED"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// DefaultAdminPassword is the fixed initial password of a generated tenant
// admin; it is expected to be rotated on first login.
const DefaultAdminPassword = "password"

// ErrSagaFailed wraps the original step failure after compensation has been
// attempted.
var ErrSagaFailed = errors.New("provision: saga failed")

// Result reports what provisioning produced. AdminCreated is false when the
// tenant already had users and the pipeline stopped after tenant creation.
type Result struct {
	TenantID      string
	AdminCreated  bool
	AdminUsername string
}

// Saga orchestrates tenant → admin user → admin role → link.
type Saga struct {
	tenants *identity.Tenants
	users   *identity.Users
	roles   *identity.Roles
}

// New constructs a Saga over the three repositories.
func New(tenants *identity.Tenants, users *identity.Users, roles *identity.Roles) *Saga {
	return &Saga{tenants: tenants, users: users, roles: roles}
}

// step pairs a reached state with the action that undoes it.
type step struct {
	state State
	undo  func(context.Context) error
}

// Provision runs the pipeline. Steps execute strictly sequentially; on any
// failure the completed steps are compensated most-recent first and the
// original cause is returned wrapped in ErrSagaFailed. Compensation failures
// are logged, never re-raised, so the caller always sees the root failure.
//
// The "skip if users exist" guard is check-then-act: two sagas racing on the
// same tenant can both pass it. That window is documented as best-effort, not
// locked away.
func (s *Saga) Provision(ctx context.Context, tenant *identity.Tenant) (Result, error) {
	var completed []step

	tenantID, err := s.tenants.Create(ctx, tenant)
	if err != nil {
		return Result{}, s.fail(ctx, completed, "create tenant", err)
	}
	completed = append(completed, step{StateTenantCreated, func(ctx context.Context) error {
		_, err := s.tenants.Delete(ctx, tenantID)
		return err
	}})

	existing, err := s.users.ListByTenant(ctx, tenantID)
	if err != nil {
		return Result{}, s.fail(ctx, completed, "list tenant users", err)
	}
	if len(existing) > 0 {
		// Already-populated tenant: provisioning is a no-op beyond the
		// tenant record itself.
		return Result{TenantID: tenantID, AdminCreated: false}, nil
	}

	code := strings.TrimSpace(tenant.ClientCode)
	if code == "" {
		code = "CLIENT" + tail(tenantID, 4)
	}
	adminUsername := code + "admin"

	admin := &identity.User{
		UserName:        adminUsername,
		Email:           fmt.Sprintf("%s@%s.com", adminUsername, strings.ToLower(code)),
		ClientID:        tenantID,
		SystemGenerated: true,
		CreatedBy:       orSystem(tenant.CreatedBy),
		UpdatedBy:       orSystem(tenant.CreatedBy),
	}
	adminID, err := s.users.Create(ctx, admin, DefaultAdminPassword)
	if err != nil {
		return Result{}, s.fail(ctx, completed, "create admin user", err)
	}
	completed = append(completed, step{StateAdminUserCreated, func(ctx context.Context) error {
		return s.users.Delete(ctx, adminID)
	}})

	role := &identity.Role{
		ClientID:        tenantID,
		Name:            adminUsername,
		Description:     fmt.Sprintf("Administrator role for %s", tenant.Name),
		SystemGenerated: true,
		Permissions:     auth.FullAccessTree(),
		CreatedBy:       orSystem(tenant.CreatedBy),
	}
	roleID, err := s.roles.Create(ctx, role)
	if err != nil {
		return Result{}, s.fail(ctx, completed, "create admin role", err)
	}
	completed = append(completed, step{StateAdminRoleCreated, func(ctx context.Context) error {
		return s.roles.Delete(ctx, roleID)
	}})

	if err := s.users.LinkRole(ctx, adminID, role); err != nil {
		return Result{}, s.fail(ctx, completed, "link admin role", err)
	}

	return Result{
		TenantID:      tenantID,
		AdminCreated:  true,
		AdminUsername: adminUsername,
	}, nil
}

// fail compensates the completed steps in LIFO order and wraps the original
// cause. Best-effort: a failing undo is logged and the unwind continues.
func (s *Saga) fail(ctx context.Context, completed []step, op string, cause error) error {
	for i := len(completed) - 1; i >= 0; i-- {
		st := completed[i]
		if err := st.undo(ctx); err != nil {
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "saga compensation failed",
				"state": string(st.state),
				"error": err.Error(),
			})
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrSagaFailed, op, cause)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func orSystem(by string) string {
	if strings.TrimSpace(by) == "" {
		return "system"
	}
	return by
}
