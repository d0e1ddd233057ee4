// Package cache is the advisory result cache. A missing or failing backend
// never fails a request: reads become misses and writes become no-ops.
//
// Concurrent identical requests are not coalesced. Two requests for the same
// key that both miss will both analyze and both write; the second write is
// an idempotent overwrite of an equal value.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"scanguard/internal/detection"
	"scanguard/internal/metrics"
)

const (
	DefaultNamespace     = "scanguard"
	DefaultScanTTL       = time.Hour
	DefaultReputationTTL = 24 * time.Hour
)

// ErrUnavailable is returned by backends that cannot serve requests. It is
// absorbed by ResultCache and never reaches callers of the pipeline.
var ErrUnavailable = errors.New("cache unavailable")

// Store is a byte-level key/value store with per-entry expiry. Get reports
// ok=false for absent and expired keys.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Fingerprint is the stable cache key for payload:
// "{namespace}:{kind}:{sha256 hex}".
func Fingerprint(namespace, kind string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return namespace + ":" + kind + ":" + hex.EncodeToString(sum[:])
}

// ResultCache stores analysis results and reputation lookups on top of a
// Store.
type ResultCache struct {
	store         Store
	namespace     string
	scanTTL       time.Duration
	reputationTTL time.Duration
	logger        *slog.Logger
}

type Option func(*ResultCache)

func WithNamespace(ns string) Option {
	return func(c *ResultCache) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

func WithTTLs(scan, reputation time.Duration) Option {
	return func(c *ResultCache) {
		if scan > 0 {
			c.scanTTL = scan
		}
		if reputation > 0 {
			c.reputationTTL = reputation
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *ResultCache) { c.logger = l }
}

// New wraps store. A nil store yields a cache that is permanently degraded.
func New(store Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:         store,
		namespace:     DefaultNamespace,
		scanTTL:       DefaultScanTTL,
		reputationTTL: DefaultReputationTTL,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether a backend is configured.
func (c *ResultCache) Available() bool { return c != nil && c.store != nil }

func (c *ResultCache) ReputationTTL() time.Duration { return c.reputationTTL }

// Key derives the fingerprint of normalized content for a channel.
func (c *ResultCache) Key(kind string, payload []byte) string {
	return Fingerprint(c.namespace, kind, payload)
}

// GetResult returns a cached analysis, or false on miss or backend failure.
func (c *ResultCache) GetResult(ctx context.Context, key string) (*detection.AnalysisResult, bool) {
	var r detection.AnalysisResult
	if !c.lookup(ctx, key, &r, "scan") {
		return nil, false
	}
	return &r, true
}

// SetResult stores r under key with the scan TTL.
func (c *ResultCache) SetResult(ctx context.Context, key string, r *detection.AnalysisResult) {
	c.put(ctx, key, r, c.scanTTL)
}

// Lookup decodes a JSON value stored by Put into dst.
func (c *ResultCache) Lookup(ctx context.Context, key string, dst any) bool {
	return c.lookup(ctx, key, dst, "reputation")
}

// Put stores v as JSON. A zero ttl means the reputation TTL.
func (c *ResultCache) Put(ctx context.Context, key string, v any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.reputationTTL
	}
	c.put(ctx, key, v, ttl)
}

func (c *ResultCache) lookup(ctx context.Context, key string, dst any, kind string) bool {
	if !c.Available() {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		c.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		return false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("cache entry undecodable, treating as miss", "key", key, "error", err)
		return false
	}
	metrics.CacheHits.WithLabelValues(kind).Inc()
	return true
}

func (c *ResultCache) put(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.Available() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("encode").Inc()
		c.logger.Warn("cache entry not encodable", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		c.logger.Warn("cache write failed, skipping", "key", key, "error", err)
	}
}

// Stats reports the backend's counters when it keeps any.
func (c *ResultCache) Stats() (Stats, bool) {
	if !c.Available() {
		return Stats{}, false
	}
	sp, ok := c.store.(interface{ Stats() Stats })
	if !ok {
		return Stats{}, false
	}
	return sp.Stats(), true
}

// Close releases the backend.
func (c *ResultCache) Close() error {
	if !c.Available() {
		return nil
	}
	return c.store.Close()
}
