package embed

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
)

// countingEmbedder counts upstream calls and returns a fixed vector.
type countingEmbedder struct {
	calls  atomic.Int64
	vector []float32
	err    error
	delay  time.Duration
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.vector, nil
}

func (c *countingEmbedder) Provider() string { return "ollama" }
func (c *countingEmbedder) Model() string    { return "nomic-embed-text" }
func (c *countingEmbedder) Dimension() int   { return len(c.vector) }

func cacheConfig() config.EmbeddingCacheConfig {
	return config.EmbeddingCacheConfig{
		MaxEntries: 128,
		TTL:        time.Hour,
	}
}

func TestCacheHitSkipsUpstream(t *testing.T) {
	inner := &countingEmbedder{vector: []float32{1, 2, 3}}
	c, err := NewCached(inner, cacheConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	first, err := c.Embed(ctx, "failed logon for alice")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "failed logon for alice")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestCacheKeyNormalizesText(t *testing.T) {
	// Case and whitespace differences hash to the same fingerprint.
	inner := &countingEmbedder{vector: []float32{1}}
	c, err := NewCached(inner, cacheConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Embed(ctx, "Failed   LOGON for alice")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "failed logon for alice")
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCacheDoesNotStoreEmptyVectors(t *testing.T) {
	inner := &countingEmbedder{vector: []float32{}}
	c, err := NewCached(inner, cacheConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Embed(ctx, "text")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "text")
	require.NoError(t, err)

	// The failed embedding is retried, not served from cache.
	assert.Equal(t, int64(2), inner.calls.Load())
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCacheErrorPropagatesAndIsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("endpoint down")}
	c, err := NewCached(inner, cacheConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Embed(ctx, "text")
	require.Error(t, err)
	_, err = c.Embed(ctx, "text")
	require.Error(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCacheEntriesExpire(t *testing.T) {
	inner := &countingEmbedder{vector: []float32{1}}
	cfg := cacheConfig()
	cfg.TTL = 20 * time.Millisecond

	c, err := NewCached(inner, cfg)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Embed(ctx, "text")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = c.Embed(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load(), "expired entry must re-embed")
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	inner := &countingEmbedder{vector: []float32{1}, delay: 50 * time.Millisecond}
	c, err := NewCached(inner, cacheConfig())
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load(), "concurrent misses should share one upstream call")
}

func TestCachePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	cfg := cacheConfig()
	cfg.PersistPath = path

	ctx := context.Background()

	first := &countingEmbedder{vector: []float32{0.5, 0.25}}
	c1, err := NewCached(first, cfg)
	require.NoError(t, err)

	vec, err := c1.Embed(ctx, "powershell execution detected")
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	// A fresh cache over the same file serves the vector without touching
	// the upstream client.
	second := &countingEmbedder{vector: []float32{9, 9}}
	c2, err := NewCached(second, cfg)
	require.NoError(t, err)
	defer c2.Close()

	warm, err := c2.Embed(ctx, "powershell execution detected")
	require.NoError(t, err)

	assert.Equal(t, vec, warm)
	assert.Equal(t, int64(0), second.calls.Load())
	assert.Equal(t, uint64(1), c2.Stats().Hits)
}
