package api

import (
	"context"
	"net/http"
	"time"
)

// SLOTier classifies a route by its latency target.
type SLOTier string

const (
	// SLOHighFast is for interactive reads (100ms).
	SLOHighFast SLOTier = "high_fast"

	// SLOHighSlow is for interactive writes that run a store transaction
	// (1000ms).
	SLOHighSlow SLOTier = "high_slow"

	// SLOLow is for operational endpoints (5000ms).
	SLOLow SLOTier = "low"
)

var sloTargets = map[SLOTier]time.Duration{
	SLOHighFast: 100 * time.Millisecond,
	SLOHighSlow: 1000 * time.Millisecond,
	SLOLow:      5000 * time.Millisecond,
}

type sloContextKey string

const sloConfigKey sloContextKey = "slo_config"

type sloConfig struct {
	tier   SLOTier
	target time.Duration
}

// SLO sets tier in the request context. It is also recorded in the response
// state, since the Handler middleware only sees its own outer context.
func SLO(tier SLOTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := &sloConfig{
				tier:   tier,
				target: sloTargets[tier],
			}
			if state := getState(r.Context()); state != nil {
				state.mu.Lock()
				state.slo = cfg
				state.mu.Unlock()
			}
			ctx := context.WithValue(r.Context(), sloConfigKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSLO returns the tier and target set by SLO.
func GetSLO(ctx context.Context) (SLOTier, time.Duration, bool) {
	cfg, ok := ctx.Value(sloConfigKey).(*sloConfig)
	if !ok {
		return "", 0, false
	}
	return cfg.tier, cfg.target, true
}
