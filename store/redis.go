package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed implementation of Store suitable for multi-instance
// deployments. Transactions WATCH their guard keys and apply the queued
// writes with one Lua script inside MULTI/EXEC, so the writes of one
// increment either all land or none do.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for Redis connection.
// All fields should be populated explicitly by your application code from environment
// variables, config files, or other sources. Never reads environment variables directly.
type RedisConfig struct {
	// URL is either a redis:// or rediss:// URL or a plain host:port address.
	URL string

	// Password for Redis authentication (optional, overrides the URL's password)
	Password string

	// DB is the Redis database number (0-15, default: 0)
	DB int

	// Prefix is prepended to all keys (default: "tapcount:")
	Prefix string

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int

	// MinIdleConns is the minimum number of idle connections (default: 0)
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes (default: ReadTimeout)
	WriteTimeout time.Duration
}

// NewRedis creates a Redis store with the given configuration.
// Validates the connection with a ping before returning. Returns an error if
// the connection cannot be established within 5 seconds.
//
// Example:
//
//	st, err := store.NewRedis(store.RedisConfig{
//		URL:    "redis://localhost:6379/0",
//		Prefix: "tapcount:",
//	})
func NewRedis(config RedisConfig) (*Redis, error) {
	st, err := DialRedis(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return st, nil
}

// DialRedis creates a Redis store without contacting the server. Connections
// are opened on first use and redialed after failures, so a server that comes
// up later is picked up without restarting. Only invalid options are errors.
func DialRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = "tapcount:"
	}

	opts, err := redisOptions(config)
	if err != nil {
		return nil, err
	}

	return &Redis{
		client: redis.NewClient(opts),
		prefix: config.Prefix,
	}, nil
}

func redisOptions(config RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if strings.HasPrefix(config.URL, "redis://") || strings.HasPrefix(config.URL, "rediss://") {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: config.URL}
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}
	return opts, nil
}

// redisReader is satisfied by both *redis.Client and *redis.Tx.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	Pipeline() redis.Pipeliner
}

// Get retrieves the string value at key.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	return redisGet(ctx, r.client, r.prefix, key)
}

// HGetAll retrieves all fields of the hash at key.
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return redisHGetAll(ctx, r.client, r.prefix, key)
}

// HGetAllBatch retrieves several hashes with a single pipeline.
func (r *Redis) HGetAllBatch(ctx context.Context, keys []string) ([]map[string]string, error) {
	return redisHGetAllBatch(ctx, r.client, r.prefix, keys)
}

// ZRevRangeWithScores returns the top members of a sorted set.
func (r *Redis) ZRevRangeWithScores(ctx context.Context, key string, limit int64) ([]Member, error) {
	return redisZRevRange(ctx, r.client, r.prefix, key, limit)
}

// Set stores a string value without expiration.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Del removes key.
func (r *Redis) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Watch runs fn under WATCH on keys. A transaction aborted by a concurrent
// write surfaces as ErrConflict.
func (r *Redis) Watch(ctx context.Context, fn func(Tx) error, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		return fn(&redisTx{tx: tx, prefix: r.prefix})
	}, full...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the Redis client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisTx struct {
	tx     *redis.Tx
	prefix string
}

func (t *redisTx) Get(ctx context.Context, key string) (string, bool, error) {
	return redisGet(ctx, t.tx, t.prefix, key)
}

func (t *redisTx) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return redisHGetAll(ctx, t.tx, t.prefix, key)
}

func (t *redisTx) HGetAllBatch(ctx context.Context, keys []string) ([]map[string]string, error) {
	return redisHGetAllBatch(ctx, t.tx, t.prefix, keys)
}

func (t *redisTx) ZRevRangeWithScores(ctx context.Context, key string, limit int64) ([]Member, error) {
	return redisZRevRange(ctx, t.tx, t.prefix, key, limit)
}

// applyScript runs the queued writes of one transaction. Every key is checked
// before the first write, so a key holding the wrong type fails the whole
// batch with nothing applied. ARGV holds, per write, the op name, the number
// of arguments and the arguments; KEYS holds the matching key. Returns the
// INCR results in queue order.
var applyScript = redis.NewScript(`
local ops = {}
local i = 1
for k = 1, #KEYS do
    local n = tonumber(ARGV[i + 1])
    ops[k] = {op = ARGV[i], key = KEYS[k], args = {unpack(ARGV, i + 2, i + 1 + n)}}
    i = i + 2 + n
end

local want = {incr = 'string', set = 'string', hset = 'hash', zincrby = 'zset'}
for _, o in ipairs(ops) do
    local t = redis.call('TYPE', o.key).ok
    if t ~= 'none' and t ~= want[o.op] then
        return redis.error_reply('WRONGTYPE ' .. o.key .. ' holds ' .. t)
    end
    if o.op == 'incr' and t == 'string' then
        local v = redis.call('GET', o.key)
        if not string.match(v, '^-?%d+$') then
            return redis.error_reply('ERR value at ' .. o.key .. ' is not an integer')
        end
    end
end

local out = {}
for _, o in ipairs(ops) do
    if o.op == 'incr' then
        out[#out + 1] = redis.call('INCR', o.key)
    elseif o.op == 'set' then
        redis.call('SET', o.key, o.args[1])
    elseif o.op == 'hset' then
        redis.call('HSET', o.key, unpack(o.args))
    elseif o.op == 'zincrby' then
        redis.call('ZINCRBY', o.key, o.args[1], o.args[2])
    end
end
return out
`)

func (t *redisTx) Exec(ctx context.Context, fn func(Pipe) error) error {
	pipe := &redisPipe{prefix: t.prefix}
	if err := fn(pipe); err != nil {
		return err
	}
	if len(pipe.keys) == 0 {
		return nil
	}

	var cmd *redis.Cmd
	_, err := t.tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		cmd = applyScript.Eval(ctx, p, pipe.keys, pipe.args...)
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("redis exec failed: %w", err)
	}

	vals, err := cmd.Int64Slice()
	if err != nil {
		return fmt.Errorf("redis exec failed: %w", err)
	}
	for i, res := range pipe.incrs {
		if i < len(vals) {
			res.val = vals[i]
		}
	}
	return nil
}

// redisPipe queues writes for applyScript.
type redisPipe struct {
	prefix string
	keys   []string
	args   []any
	incrs  []*IntResult
}

func (p *redisPipe) queue(op, key string, args ...any) {
	p.keys = append(p.keys, p.prefix+key)
	p.args = append(p.args, op, len(args))
	p.args = append(p.args, args...)
}

func (p *redisPipe) Incr(key string) *IntResult {
	res := &IntResult{}
	p.incrs = append(p.incrs, res)
	p.queue("incr", key)
	return res
}

func (p *redisPipe) Set(key, value string) {
	p.queue("set", key, value)
}

func (p *redisPipe) HSet(key string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	args := make([]any, 0, len(values)*2)
	for field, v := range values {
		args = append(args, field, v)
	}
	p.queue("hset", key, args...)
}

func (p *redisPipe) ZIncrBy(key string, incr float64, member string) {
	p.queue("zincrby", key, strconv.FormatFloat(incr, 'f', -1, 64), member)
}

func redisGet(ctx context.Context, c redisReader, prefix, key string) (string, bool, error) {
	val, err := c.Get(ctx, prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

func redisHGetAll(ctx context.Context, c redisReader, prefix, key string) (map[string]string, error) {
	val, err := c.HGetAll(ctx, prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	return val, nil
}

func redisHGetAllBatch(ctx context.Context, c redisReader, prefix string, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, prefix+k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis hgetall batch failed: %w", err)
	}

	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func redisZRevRange(ctx context.Context, c redisReader, prefix, key string, limit int64) ([]Member, error) {
	if limit <= 0 {
		return nil, nil
	}

	zs, err := c.ZRevRangeWithScores(ctx, prefix+key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, Member{ID: id, Score: z.Score})
	}
	return out, nil
}
