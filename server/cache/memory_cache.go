package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type MemoryCache struct {
	items   map[string]*cacheItem
	mutex   sync.RWMutex
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
	cleanup *time.Ticker
	stopCh  chan struct{}
}

type cacheItem struct {
	data        []byte
	expiresAt   time.Time
	lastUsed    time.Time
	accessCount int64
}

func NewMemoryCache(maxSize int, ttl time.Duration, logger *zap.Logger) *MemoryCache {
	cache := &MemoryCache{
		items:   make(map[string]*cacheItem),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	cache.cleanup = time.NewTicker(1 * time.Minute)
	go cache.cleanupExpired()

	return cache
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *MemoryCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	c.items[key] = &cacheItem{
		data:        data,
		expiresAt:   time.Now().Add(ttl),
		lastUsed:    time.Now(),
		accessCount: 1,
	}

	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mutex.RLock()
	item, exists := c.items[key]
	c.mutex.RUnlock()

	if !exists {
		return ErrCacheMiss
	}

	if time.Now().After(item.expiresAt) {
		c.mutex.Lock()
		delete(c.items, key)
		c.mutex.Unlock()
		return ErrCacheMiss
	}

	c.mutex.Lock()
	item.lastUsed = time.Now()
	item.accessCount++
	data := item.data
	c.mutex.Unlock()

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal cache value: %w", err)
	}

	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	if !exists {
		return false, nil
	}

	if time.Now().After(item.expiresAt) {
		return false, nil
	}

	return true, nil
}

func (c *MemoryCache) GetStats(ctx context.Context) (*CacheStats, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	expiredCount := 0
	totalAccessCount := int64(0)

	for _, item := range c.items {
		if now.After(item.expiresAt) {
			expiredCount++
		}
		totalAccessCount += item.accessCount
	}

	stats := &CacheStats{
		Connected: true,
		Backend:   "memory",
		Info: fmt.Sprintf("items=%d,expired=%d,access_count=%d,max_size=%d",
			len(c.items), expiredCount, totalAccessCount, c.maxSize),
	}

	return stats, nil
}

func (c *MemoryCache) Close() error {
	if c.cleanup != nil {
		c.cleanup.Stop()
	}
	close(c.stopCh)
	return nil
}

func (c *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.lastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.lastUsed
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			c.mutex.Lock()
			now := time.Now()
			for key, item := range c.items {
				if now.After(item.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mutex.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func GenerateCacheKey(components ...string) string {
	h := md5.New()
	for _, component := range components {
		h.Write([]byte(component))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
