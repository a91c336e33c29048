package store

import "context"

// Unavailable is the Store used when no backend is configured. Every
// operation fails with ErrUnavailable so callers surface a server error
// instead of silently serving empty data.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (Unavailable) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, ErrUnavailable
}

func (Unavailable) HGetAllBatch(context.Context, []string) ([]map[string]string, error) {
	return nil, ErrUnavailable
}

func (Unavailable) ZRevRangeWithScores(context.Context, string, int64) ([]Member, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Set(context.Context, string, string) error { return ErrUnavailable }

func (Unavailable) Del(context.Context, string) error { return ErrUnavailable }

func (Unavailable) Watch(context.Context, func(Tx) error, ...string) error {
	return ErrUnavailable
}

func (Unavailable) Ping(context.Context) error { return ErrUnavailable }

func (Unavailable) Close() error { return nil }
