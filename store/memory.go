package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
)

// Memory is an in-memory implementation of Store using maps with mutex protection.
//
// WARNING: This implementation is NOT suitable for distributed deployments.
// Each instance keeps its own counter and leaderboard, so several replicas
// would each report different totals.
//
// Use Memory only for:
//   - Local development and testing
//   - Single-instance deployments where losing state on restart is acceptable
//
// For production, use the Redis store instead.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
	}
}

// Get retrieves the string value at key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrUnavailable
	}
	return m.get(key)
}

// HGetAll returns a copy of the hash at key.
func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrUnavailable
	}
	return m.hgetall(key), nil
}

// HGetAllBatch returns copies of several hashes.
func (m *Memory) HGetAllBatch(_ context.Context, keys []string) ([]map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrUnavailable
	}
	return m.hgetallBatch(keys), nil
}

// ZRevRangeWithScores returns the top members of a sorted set.
func (m *Memory) ZRevRangeWithScores(_ context.Context, key string, limit int64) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrUnavailable
	}
	return m.zrevrange(key, limit), nil
}

// Set stores a string value.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	m.strings[key] = value
	return nil
}

// Del removes key regardless of its type.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.zsets, key)
	return nil
}

// Watch runs fn while holding the write lock, so transactions are fully
// serialized and never report ErrConflict. The keys are accepted for
// interface compatibility.
//
// fn must not call back into m directly; use the Tx it receives.
func (m *Memory) Watch(_ context.Context, fn func(Tx) error, _ ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	return fn(&memoryTx{m: m})
}

// Ping reports whether the store is open.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// Close drops all data. Subsequent calls fail with ErrUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.strings = nil
	m.hashes = nil
	m.zsets = nil
	return nil
}

// The helpers below assume m.mu is held.

func (m *Memory) get(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *Memory) hgetall(key string) map[string]string {
	out := make(map[string]string, len(m.hashes[key]))
	maps.Copy(out, m.hashes[key])
	return out
}

func (m *Memory) hgetallBatch(keys []string) []map[string]string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = m.hgetall(k)
	}
	return out
}

func (m *Memory) zrevrange(key string, limit int64) []Member {
	if limit <= 0 {
		return nil
	}
	set := m.zsets[key]
	members := make([]Member, 0, len(set))
	for id, score := range set {
		members = append(members, Member{ID: id, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].ID > members[j].ID
	})
	if int64(len(members)) > limit {
		members = members[:limit]
	}
	return members
}

type memoryTx struct {
	m *Memory
}

func (t *memoryTx) Get(_ context.Context, key string) (string, bool, error) {
	return t.m.get(key)
}

func (t *memoryTx) HGetAll(_ context.Context, key string) (map[string]string, error) {
	return t.m.hgetall(key), nil
}

func (t *memoryTx) HGetAllBatch(_ context.Context, keys []string) ([]map[string]string, error) {
	return t.m.hgetallBatch(keys), nil
}

func (t *memoryTx) ZRevRangeWithScores(_ context.Context, key string, limit int64) ([]Member, error) {
	return t.m.zrevrange(key, limit), nil
}

// Exec validates every queued command before applying any of them, so a
// failing command leaves the store untouched.
func (t *memoryTx) Exec(_ context.Context, fn func(Pipe) error) error {
	pipe := &memoryPipe{m: t.m, pending: make(map[string]int64)}
	if err := fn(pipe); err != nil {
		return err
	}
	if pipe.err != nil {
		return pipe.err
	}
	for _, op := range pipe.ops {
		op()
	}
	return nil
}

type memoryPipe struct {
	m       *Memory
	ops     []func()
	pending map[string]int64
	err     error
}

func (p *memoryPipe) Incr(key string) *IntResult {
	res := &IntResult{}

	cur, seen := p.pending[key]
	if !seen {
		if raw, ok := p.m.strings[key]; ok {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				if p.err == nil {
					p.err = fmt.Errorf("incr %s: value is not an integer", key)
				}
				return res
			}
			cur = n
		}
	}
	cur++
	p.pending[key] = cur

	next := cur
	p.ops = append(p.ops, func() {
		p.m.strings[key] = strconv.FormatInt(next, 10)
		res.val = next
	})
	return res
}

func (p *memoryPipe) Set(key, value string) {
	p.ops = append(p.ops, func() {
		p.m.strings[key] = value
	})
}

func (p *memoryPipe) HSet(key string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	vals := maps.Clone(values)
	p.ops = append(p.ops, func() {
		h, ok := p.m.hashes[key]
		if !ok {
			h = make(map[string]string, len(vals))
			p.m.hashes[key] = h
		}
		maps.Copy(h, vals)
	})
}

func (p *memoryPipe) ZIncrBy(key string, incr float64, member string) {
	p.ops = append(p.ops, func() {
		set, ok := p.m.zsets[key]
		if !ok {
			set = make(map[string]float64)
			p.m.zsets[key] = set
		}
		set[member] += incr
	})
}
