package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nhalm/canonlog"

	"github.com/nhalm/tapcount/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// HandlerOption configures the Handler middleware.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	canonlog    bool
	slosEnabled bool
	metrics     *metrics.Metrics
}

// WithCanonlog enables one canonical log line per request with method, path,
// route, status, duration_ms and request_id. Errors set via SetError are
// logged too.
func WithCanonlog() HandlerOption {
	return func(c *handlerConfig) {
		c.canonlog = true
	}
}

// WithSLOs logs slo_class and slo_status for routes wrapped in SLO.
// Requires WithCanonlog.
func WithSLOs() HandlerOption {
	return func(c *handlerConfig) {
		c.slosEnabled = true
	}
}

// WithMetrics records request counts and durations by route pattern.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(c *handlerConfig) {
		c.metrics = m
	}
}

// Handler returns middleware that owns the response state and writes the
// response after the rest of the chain returns. Panics become 500s.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := &handlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &State{}
			ctx := context.WithValue(r.Context(), stateKey, state)
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" || len(requestID) > 64 {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			if cfg.canonlog {
				ctx = canonlog.NewContext(ctx)
				canonlog.InfoAddMany(ctx, map[string]any{
					"method":     r.Method,
					"path":       r.URL.Path,
					"request_id": requestID,
				})
			}

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = ErrInternal
					state.mu.Unlock()

					if cfg.canonlog {
						canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
					}
				}

				state.mu.Lock()
				status := state.status
				apiErr := state.err
				slo := state.slo
				state.mu.Unlock()
				if apiErr != nil {
					status = apiErr.Status
				}
				if status == 0 {
					status = http.StatusOK
				}

				duration := time.Since(start)
				route := routePattern(r)

				if cfg.metrics != nil {
					cfg.metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
					cfg.metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
				}

				if cfg.canonlog {
					if apiErr != nil {
						canonlog.ErrorAdd(ctx, apiErr)
					}
					canonlog.InfoAddMany(ctx, map[string]any{
						"route":       route,
						"status":      status,
						"duration_ms": duration.Milliseconds(),
					})

					if cfg.slosEnabled && slo != nil {
						sloStatus := "PASS"
						if duration > slo.target {
							sloStatus = "FAIL"
						}
						canonlog.InfoAdd(ctx, "slo_class", string(slo.tier))
						canonlog.InfoAdd(ctx, "slo_status", sloStatus)
					}

					canonlog.Flush(ctx)
				}

				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// routePattern returns the matched chi pattern, or "unmatched" so unknown
// paths do not explode metric cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func writeResponse(w http.ResponseWriter, state *State) {
	state.mu.Lock()
	defer state.mu.Unlock()

	for key, values := range state.headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if state.err != nil {
		writeJSON(w, state.err.Status, state.err)
		return
	}

	if state.body != nil {
		writeJSON(w, state.status, state.body)
		return
	}

	if state.status != 0 {
		w.WriteHeader(state.status)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
