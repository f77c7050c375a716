package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"agrihub.org/api/spec"
	"agrihub.org/internal/auth"
	"agrihub.org/internal/identity"
	"agrihub.org/internal/obs"
	"agrihub.org/internal/provision"
	"agrihub.org/internal/store"
	"agrihub.org/internal/stream"
)

// ReadyProbe is a readiness check (for example, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Codec   *auth.Codec
	Tenants *identity.Tenants
	Users   *identity.Users
	Roles   *identity.Roles
	Saga    *provision.Saga
	Records store.RecordStore
	Events  *stream.Stream
	Ready   ReadyProbe
	Version string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	codec   *auth.Codec
	tenants *identity.Tenants
	users   *identity.Users
	roles   *identity.Roles
	saga    *provision.Saga
	records store.RecordStore
	events  *stream.Stream
	ready   ReadyProbe
	version string
}

// New builds the API and registers all routes.
func New(cfg Config) *API {
	a := &API{
		mux:     http.NewServeMux(),
		codec:   cfg.Codec,
		tenants: cfg.Tenants,
		users:   cfg.Users,
		roles:   cfg.Roles,
		saga:    cfg.Saga,
		records: cfg.Records,
		events:  cfg.Events,
		ready:   cfg.Ready,
		version: cfg.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/login", a.handleLogin)
	a.mux.HandleFunc("/refresh_token", a.handleRefreshToken)

	// tenants (clients on the wire)
	a.mux.HandleFunc("/addclient", a.handleAddClient)
	a.mux.HandleFunc("/get_clients", a.handleGetClients)
	a.mux.HandleFunc("/get_client/", a.handleGetClient)
	a.mux.HandleFunc("/update_client/", a.handleUpdateClient)
	a.mux.HandleFunc("/delete_client/", a.handleDeleteClient)

	// users and roles
	a.mux.HandleFunc("/users", a.handleUsers)
	a.mux.HandleFunc("/users/", a.handleUserResource)
	a.mux.HandleFunc("/roles", a.handleRoles)
	a.mux.HandleFunc("/roles/", a.handleRoleResource)

	// farm record plumbing
	a.mux.HandleFunc("/records/", a.handleRecords)
	a.mux.HandleFunc("/fields/", a.handleFieldFeature)
	a.mux.HandleFunc("/events", a.handleEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 100, 50)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "agrihub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "agrihub-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}
