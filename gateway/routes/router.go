package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vaultledger/gateway/middleware"
)

// Route groups share a rate-limit bucket and scope requirement.
const (
	GroupRead  = "read"
	GroupWrite = "write"
	GroupAdmin = "admin"
)

type Config struct {
	Ledger        Ledger
	Timeout       time.Duration
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	// Scopes maps a route group to the token scopes it requires.
	Scopes map[string][]string
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("routes: ledger required")
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Handle("/healthz", health)

	lr := newLedgerRoutes(cfg.Ledger, cfg.Timeout)
	r.Route("/v1", func(v1 chi.Router) {
		if obs != nil {
			v1.Use(obs.Middleware("v1"))
		}
		v1.Group(func(g chi.Router) {
			cfg.guard(g, GroupRead)
			lr.mountReads(g)
		})
		v1.Group(func(g chi.Router) {
			cfg.guard(g, GroupWrite)
			lr.mountWrites(g)
		})
		v1.Group(func(g chi.Router) {
			cfg.guard(g, GroupAdmin)
			lr.mountAdmin(g)
		})
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r, nil
}

// guard authenticates before throttling so authenticated callers get their
// own bucket.
func (cfg Config) guard(r chi.Router, group string) {
	if cfg.Authenticator != nil {
		r.Use(cfg.Authenticator.Middleware(cfg.Scopes[group]...))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware(group))
	}
}
