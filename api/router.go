package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhalm/tapcount/metrics"
	"github.com/nhalm/tapcount/notify"
	"github.com/nhalm/tapcount/service"
	"github.com/nhalm/tapcount/store"
)

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 16 << 10

// Config holds the router's dependencies. Service and Store are required.
type Config struct {
	Service       *service.Service
	Notifications *notify.Registry
	Store         store.Store

	// Metrics records per-request metrics. Gatherer, when set, is served
	// on /metrics.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Throttle limits requests per client on the API routes. Nil disables
	// throttling.
	Throttle *Throttle

	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Canonlog       bool
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	opts := []HandlerOption{WithMetrics(cfg.Metrics)}
	if cfg.Canonlog {
		opts = append(opts, WithCanonlog(), WithSLOs())
	}

	r := chi.NewRouter()
	r.Use(Handler(opts...))

	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		SetError(r, ErrNotFound)
	})
	r.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		SetError(r, ErrMethodNotAllowed)
	})

	r.With(SLO(SLOLow)).Get("/healthz", healthz(cfg.Store))
	if cfg.Gatherer != nil {
		r.With(SLO(SLOLow)).Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.Throttle != nil {
			r.Use(cfg.Throttle.Handler)
		}
		if cfg.RequestTimeout > 0 {
			r.Use(timeout(cfg.RequestTimeout))
		}
		r.Use(MaxBodySize(cfg.MaxBodyBytes))

		counter := &counterHandlers{svc: cfg.Service}
		r.With(SLO(SLOHighFast)).Get("/counter", counter.get)
		r.With(SLO(SLOHighSlow)).Post("/counter", counter.increment)

		if cfg.Notifications != nil {
			n := &notificationHandlers{registry: cfg.Notifications}
			r.Route("/notifications/{userId}", func(r chi.Router) {
				r.Use(SLO(SLOHighFast))
				r.Get("/", n.get)
				r.Put("/", n.put)
				r.Delete("/", n.delete)
			})
		}
	})

	return r
}

// timeout bounds the request context so a stalled store fails the request
// instead of holding the connection.
func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func healthz(st store.Store) http.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			storeFailure(r, err)
			return
		}
		SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
	}
}
