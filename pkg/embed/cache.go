package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

var embeddingsBucket = []byte("embeddings")

// CachedEmbedder fronts a Client with a content-addressed LRU keyed by
// (provider, model, normalized text). Entries expire after the configured
// TTL. When a persist path is configured the cache warms itself from disk
// on startup and writes new vectors through.
type CachedEmbedder struct {
	inner Client
	lru   *expirable.LRU[string, []float32]
	group singleflight.Group
	ttl   time.Duration

	db     *bolt.DB
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// persistedVector is the on-disk cache record.
type persistedVector struct {
	Vector   []float32 `json:"vector"`
	StoredAt time.Time `json:"storedAt"`
}

// NewCached wraps inner with a cache sized and aged per cfg.
func NewCached(inner Client, cfg config.EmbeddingCacheConfig) (*CachedEmbedder, error) {
	c := &CachedEmbedder{
		inner:  inner,
		lru:    expirable.NewLRU[string, []float32](cfg.MaxEntries, nil, cfg.TTL),
		ttl:    cfg.TTL,
		logger: slog.With("component", "embed_cache"),
	}

	if cfg.PersistPath != "" {
		if err := c.openPersistence(cfg.PersistPath); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *CachedEmbedder) openPersistence(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("open embedding cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(embeddingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create embedding cache bucket: %w", err)
	}

	c.db = db
	c.warmFromDisk()
	return nil
}

// warmFromDisk loads unexpired persisted vectors into the LRU. Expired
// records are removed while we are here.
func (c *CachedEmbedder) warmFromDisk() {
	loaded, expired := 0, 0
	cutoff := time.Now().Add(-c.ttl)

	err := c.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(embeddingsBucket)
		cur := bkt.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var rec persistedVector
			if err := json.Unmarshal(v, &rec); err != nil || rec.StoredAt.Before(cutoff) {
				if err := cur.Delete(); err != nil {
					return err
				}
				expired++
				continue
			}
			c.lru.Add(string(k), rec.Vector)
			loaded++
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Embedding cache warm-up failed", "error", err)
		return
	}
	if loaded > 0 || expired > 0 {
		c.logger.Info("Embedding cache warmed from disk", "loaded", loaded, "expired", expired)
	}
}

// Embed implements Client. Concurrent misses for the same fingerprint are
// collapsed into a single upstream call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	fp := models.Fingerprint(c.inner.Provider(), c.inner.Model(), text)

	if vec, ok := c.lru.Get(fp); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	result, err, _ := c.group.Do(fp, func() (any, error) {
		if vec, ok := c.lru.Get(fp); ok {
			return vec, nil
		}
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		// Empty vectors mark a failed embedding; caching one would pin the
		// failure for the full TTL.
		if len(vec) > 0 {
			c.lru.Add(fp, vec)
			c.persist(fp, vec)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (c *CachedEmbedder) persist(fp string, vec []float32) {
	if c.db == nil {
		return
	}
	data, err := json.Marshal(persistedVector{Vector: vec, StoredAt: time.Now().UTC()})
	if err != nil {
		return
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddingsBucket).Put([]byte(fp), data)
	})
	if err != nil {
		c.logger.Warn("Embedding cache persist failed", "error", err)
	}
}

func (c *CachedEmbedder) Provider() string { return c.inner.Provider() }
func (c *CachedEmbedder) Model() string    { return c.inner.Model() }
func (c *CachedEmbedder) Dimension() int   { return c.inner.Dimension() }

// Close releases the persistence handle, if any.
func (c *CachedEmbedder) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hitRate"`
}

// Stats returns hit/miss counters and the current entry count.
func (c *CachedEmbedder) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	s := CacheStats{Hits: hits, Misses: misses, Entries: c.lru.Len()}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
