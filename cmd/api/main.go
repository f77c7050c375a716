package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrihub.org/internal/auth"
	"agrihub.org/internal/httpapi"
	"agrihub.org/internal/identity"
	"agrihub.org/internal/obs"
	"agrihub.org/internal/provision"
	"agrihub.org/internal/store"
	"agrihub.org/internal/store/pg"
	"agrihub.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("AGRIHUB_COMMIT"))

	secret := os.Getenv("AGRIHUB_JWT_SECRET")
	if secret == "" {
		log.Fatal("AGRIHUB_JWT_SECRET is required")
	}

	var codecOpts []auth.CodecOption
	if ttl := parseDuration(os.Getenv("AGRIHUB_ACCESS_TTL")); ttl > 0 {
		codecOpts = append(codecOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := parseDuration(os.Getenv("AGRIHUB_REFRESH_TTL")); ttl > 0 {
		codecOpts = append(codecOpts, auth.WithRefreshTTL(ttl))
	}
	codec, err := auth.NewCodec(secret, codecOpts...)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// Records live in PostgreSQL when a DSN is configured; otherwise the
	// in-memory store keeps local development self-contained.
	var (
		records store.RecordStore
		db      *sql.DB
	)
	if dsn := os.Getenv("AGRIHUB_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		records = pgStore
		db = pgStore.DB()
	} else {
		log.Print("AGRIHUB_PG_DSN not set, using in-memory store")
		records = store.NewMemory()
	}

	tenants := identity.NewTenants(records)
	users := identity.NewUsers(records)
	roles := identity.NewRoles(records)

	api := httpapi.New(httpapi.Config{
		Codec:   codec,
		Tenants: tenants,
		Users:   users,
		Roles:   roles,
		Saga:    provision.New(tenants, users, roles),
		Records: records,
		Events:  stream.New(),
		Ready:   httpapi.ReadyProbe{DB: db},
		Version: version,
	})

	addr := os.Getenv("AGRIHUB_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // /events holds the connection open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting agrihub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration %q: %v", s, err)
	}
	return d
}
