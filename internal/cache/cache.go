// Package cache provides the two-tier response cache: a shared redis store
// with an always-warm in-process fallback. Every write lands in both tiers,
// so when redis is unreachable the layer degrades to local-only instead of
// failing the request path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
)

// Cache namespaces. Keys are built as <prefix>:<namespace>:<part>:<part>...
const (
	NamespaceQuote       = "quote"
	NamespaceChain       = "chain"
	NamespaceExpirations = "expirations"
)

const (
	defaultKeyPrefix     = "optionscope"
	defaultDialTimeout   = 2 * time.Second
	defaultSweepInterval = time.Minute
)

// Config holds the cache layer configuration.
type Config struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	DialTimeout   time.Duration
	SweepInterval time.Duration
}

// Health is a point-in-time snapshot of the cache layer state.
type Health struct {
	RemoteConnected bool      `json:"remote_connected"`
	Degraded        bool      `json:"degraded"`
	DegradedSince   time.Time `json:"degraded_since"`
	LocalEntries    int       `json:"local_entries"`
	Hits            uint64    `json:"hits"`
	Misses          uint64    `json:"misses"`
}

// envelope is the stored wire form. Freshness is enforced by the layer from
// created_at and ttl_seconds; the redis key expiry is set as well but is not
// relied on.
type envelope struct {
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

func (e envelope) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= time.Duration(e.TTLSeconds)*time.Second
}

// Cache is the two-tier response cache.
type Cache struct {
	remote remoteStore
	local  *localStore
	prefix string
	logger zerolog.Logger

	mu            sync.RWMutex
	degraded      bool
	degradedSince time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds the cache and pings the remote store. A failed ping starts the
// cache degraded rather than returning an error; the janitor re-pings until
// the remote comes back.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return newWithRemote(newRedisStore(cfg), cfg, logger)
}

func newWithRemote(remote remoteStore, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	c := &Cache{
		remote: remote,
		local:  newLocalStore(),
		prefix: cfg.KeyPrefix,
		logger: logger.With().Str("component", "cache").Logger(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := c.remote.Ping(ctx); err != nil {
		c.markDegraded(err)
	} else {
		c.logger.Debug().Str("addr", cfg.Addr).Msg("Connected to remote cache")
	}

	c.wg.Add(1)
	go c.janitor(cfg.SweepInterval)

	return c
}

func (c *Cache) key(namespace string, parts ...string) string {
	elems := make([]string, 0, len(parts)+2)
	elems = append(elems, c.prefix, namespace)
	elems = append(elems, parts...)
	return strings.Join(elems, ":")
}

// Get loads the cached value for the key into dest and reports whether a
// fresh entry was found. Remote errors degrade the cache to local-only; the
// caller never sees them.
func (c *Cache) Get(ctx context.Context, namespace string, dest interface{}, parts ...string) bool {
	key := c.key(namespace, parts...)

	if !c.isDegraded() {
		raw, err := c.remote.Get(ctx, key)
		switch {
		case err == nil:
			var env envelope
			if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil && !env.expired(c.now()) {
				if jsonErr := json.Unmarshal(env.Payload, dest); jsonErr == nil {
					c.hits.Add(1)
					logging.LogCacheEvent(c.logger, namespace, key, true)
					return true
				}
			}
			// Stale or undecodable remote entry; fall through to local.
		case errors.Is(err, errRemoteMiss):
			// Fall through to local.
		default:
			c.observeRemoteErr(err)
		}
	}

	payload, ok := c.local.get(key, c.now())
	if !ok {
		c.misses.Add(1)
		logging.LogCacheEvent(c.logger, namespace, key, false)
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	logging.LogCacheEvent(c.logger, namespace, key, true)
	return true
}

// Set stores value under the key in both tiers. The local mirror always
// succeeds; a remote failure degrades the cache and is only logged.
func (c *Cache) Set(ctx context.Context, namespace string, value interface{}, ttl time.Duration, parts ...string) {
	key := c.key(namespace, parts...)

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Could not marshal cache value")
		return
	}

	now := c.now()
	c.local.set(key, payload, ttl, now)

	if c.isDegraded() {
		return
	}

	raw, err := json.Marshal(envelope{
		Payload:    payload,
		CreatedAt:  now,
		TTLSeconds: int64(ttl / time.Second),
	})
	if err != nil {
		return
	}
	if err := c.remote.Set(ctx, key, raw, ttl); err != nil {
		c.observeRemoteErr(err)
	}
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, namespace string, parts ...string) {
	key := c.key(namespace, parts...)
	c.local.delete(key)
	if c.isDegraded() {
		return
	}
	if err := c.remote.Del(ctx, key); err != nil {
		c.observeRemoteErr(err)
	}
}

// Clear removes every entry matching the glob pattern, e.g. "quote:*" or
// "*". The pattern is matched below the key prefix. It returns the number
// of entries removed from the larger tier.
func (c *Cache) Clear(ctx context.Context, pattern string) int {
	if pattern == "" {
		pattern = "*"
	}
	full := c.prefix + ":" + pattern

	removed := c.local.clear(func(key string) bool {
		ok, err := path.Match(full, key)
		return err == nil && ok
	})

	if c.isDegraded() {
		return removed
	}

	keys, err := c.remote.Scan(ctx, full)
	if err != nil {
		c.observeRemoteErr(err)
		return removed
	}
	if len(keys) > 0 {
		if err := c.remote.Del(ctx, keys...); err != nil {
			c.observeRemoteErr(err)
			return removed
		}
	}
	if len(keys) > removed {
		removed = len(keys)
	}
	return removed
}

// HealthCheck pings the remote store and updates the degraded state. It
// reports whether the remote tier is reachable.
func (c *Cache) HealthCheck(ctx context.Context) bool {
	if err := c.remote.Ping(ctx); err != nil {
		c.markDegraded(err)
		return false
	}
	c.markRecovered()
	return true
}

// Health returns a snapshot of the cache state.
func (c *Cache) Health() Health {
	c.mu.RLock()
	degraded := c.degraded
	since := c.degradedSince
	c.mu.RUnlock()

	return Health{
		RemoteConnected: !degraded,
		Degraded:        degraded,
		DegradedSince:   since,
		LocalEntries:    c.local.len(),
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
	}
}

// Close stops the janitor and closes the remote connection.
func (c *Cache) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		err = c.remote.Close()
	})
	return err
}

func (c *Cache) isDegraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// observeRemoteErr degrades the cache on a remote store failure. Caller
// cancellation says nothing about the store and is ignored.
func (c *Cache) observeRemoteErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.markDegraded(err)
}

func (c *Cache) markDegraded(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return
	}
	c.degraded = true
	c.degradedSince = c.now()
	c.logger.Warn().
		Err(fmt.Errorf("%w: %v", apperrors.ErrCacheUnavailable, cause)).
		Msg("Remote cache unreachable, serving local-only")
}

func (c *Cache) markRecovered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		return
	}
	c.degraded = false
	c.degradedSince = time.Time{}
	c.logger.Info().Msg("Remote cache recovered")
}

// janitor sweeps expired local entries and re-pings the remote store while
// degraded.
func (c *Cache) janitor(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if evicted := c.local.sweep(c.now()); evicted > 0 {
				c.logger.Debug().Int("evicted", evicted).Msg("Swept expired local entries")
			}
			if c.isDegraded() {
				ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
				if err := c.remote.Ping(ctx); err == nil {
					c.markRecovered()
				}
				cancel()
			}
		}
	}
}
