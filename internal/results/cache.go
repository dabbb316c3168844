package results

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/redis"
)

const keyPrefix = "nested:run:"

// Backend is the key-value store behind a Cache. *pkgredis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Cache remembers run records by the configuration that produced them, so
// a repeated run with the same problem, seed and settings is answered
// without sampling again.
type Cache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewCache(backend Backend, cfg config.RedisConfig) *Cache {
	return &Cache{
		backend: backend,
		ttl:     cfg.CacheTTL,
		logger:  slog.Default().With("component", "results-cache"),
	}
}

// Key derives the cache key for a problem run under cfg. Only the sections
// that change the numbers take part. A non-empty dataPath adds the path and
// a digest of the file contents.
func Key(problem, dataPath string, cfg *config.Config) (string, error) {
	var digest string
	if dataPath != "" {
		d, err := fileDigest(dataPath)
		if err != nil {
			return "", err
		}
		digest = d
	}
	raw, err := json.Marshal(struct {
		Problem    string                  `json:"problem"`
		DataPath   string                  `json:"data_path,omitempty"`
		DataDigest string                  `json:"data_digest,omitempty"`
		Sampler    config.SamplerConfig    `json:"sampler"`
		Clustering config.ClusteringConfig `json:"clustering"`
		Reducer    config.ReducerConfig    `json:"reducer"`
	}{problem, dataPath, digest, cfg.Sampler, cfg.Clustering, cfg.Reducer})
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16]), nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing data file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing data file %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) Get(ctx context.Context, key string) (*RunRecord, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key, "run_id", rec.RunID)
	return &rec, true
}

// Set stores rec; failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, rec *RunRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrRun returns the cached record for key, or calls run once per key
// across concurrent callers and caches its result. The bool reports a hit.
func (c *Cache) GetOrRun(ctx context.Context, key string, run func() (*RunRecord, error)) (*RunRecord, bool, error) {
	if rec, ok := c.Get(ctx, key); ok {
		return rec, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if rec, ok := c.Get(ctx, key); ok {
			return rec, nil
		}
		rec, err := run()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, rec)
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*RunRecord), false, nil
}

// Invalidate drops every cached run.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
