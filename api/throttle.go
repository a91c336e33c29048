package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a per-client token bucket in front of the API. It protects the
// store from request floods; the per-user cooldown is enforced separately by
// the counter.
//
// Buckets live in memory and idle ones are evicted by a janitor goroutine
// that runs until Close.
type Throttle struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	realIP       bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// ThrottleWithIdleTTL sets how long an unused bucket is kept (default 15m).
func ThrottleWithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

// ThrottleWithCleanupEvery sets the janitor interval (default 2m). Zero
// disables the janitor.
func ThrottleWithCleanupEvery(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.cleanupEvery = d }
}

// ThrottleWithRealIP keys buckets on X-Real-IP or the first X-Forwarded-For
// entry instead of RemoteAddr. Only enable behind a proxy that sets them.
func ThrottleWithRealIP() ThrottleOption {
	return func(t *Throttle) { t.realIP = true }
}

// NewThrottle creates a Throttle allowing rps requests per second per client
// with bursts of up to burst requests.
func NewThrottle(rps float64, burst int, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		entries:      make(map[string]*throttleEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.cleanupEvery <= 0 {
		close(t.done)
		return t
	}
	go t.janitor()
	return t
}

// Close stops the janitor and waits for it to exit.
func (t *Throttle) Close() {
	t.closeOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

func (t *Throttle) janitor() {
	defer close(t.done)

	ticker := time.NewTicker(t.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

func (t *Throttle) cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

func (t *Throttle) clientKey(r *http.Request) string {
	if t.realIP {
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return strings.TrimSpace(ip)
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Handler rejects requests over the client's budget with 429 and a
// Retry-After header.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.limiter(t.clientKey(r)).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := 1
		if t.rps > 0 {
			retryAfter = max(1, int(math.Ceil(1/float64(t.rps))))
		}
		SetHeader(r, "Retry-After", strconv.Itoa(retryAfter))
		SetError(r, ErrRateLimited.With("Too many requests, slow down"))
	})
}
