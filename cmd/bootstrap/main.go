// Command bootstrap provisions the initial SUPERADMIN tenant so the API has
// a first login to hand out. Safe to re-run: a tenant that already has users
// is left untouched.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"agrihub.org/internal/identity"
	"agrihub.org/internal/provision"
	"agrihub.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn  = flag.String("dsn", os.Getenv("AGRIHUB_PG_DSN"), "PostgreSQL DSN")
		name = flag.String("name", "Super Admin", "Tenant name")
		code = flag.String("code", "SUPERADMIN", "Tenant client code")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AGRIHUB_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer records.Close()

	tenants := identity.NewTenants(records)
	users := identity.NewUsers(records)
	roles := identity.NewRoles(records)
	saga := provision.New(tenants, users, roles)

	// Re-running against an existing tenant would insert a duplicate, so
	// look it up by code first.
	if existing, err := tenants.FindByCode(ctx, *code); err == nil {
		members, err := users.ListByTenant(ctx, existing.ID)
		if err != nil {
			log.Fatalf("list users: %v", err)
		}
		if len(members) > 0 {
			log.Printf("tenant %s already provisioned (id %s)", *code, existing.ID)
			return
		}
	}

	result, err := saga.Provision(ctx, &identity.Tenant{
		Name:        *name,
		Description: "System administration tenant",
		ClientCode:  *code,
		CreatedBy:   "system",
	})
	if err != nil {
		log.Fatalf("provision: %v", err)
	}

	log.Printf("tenant %s provisioned (id %s)", *code, result.TenantID)
	if result.AdminCreated {
		log.Printf("admin user %s created with the default password; rotate it now", result.AdminUsername)
	}
}
