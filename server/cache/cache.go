package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores JSON-marshaled values: Set marshals, Get unmarshals into
// dest. Both backends share these semantics so values survive a move to
// Redis unchanged.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}) error

	Get(ctx context.Context, key string, dest interface{}) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Connected bool   `json:"connected"`
	Backend   string `json:"backend"`
	Info      string `json:"info"`
}
