// Package retriever re-ranks vector search results with event metadata so
// the analysis prompt sees recent, high-risk context first.
package retriever

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
	"github.com/MLidstrom/Castellan-sub013/pkg/vectorstore"
)

// weightTolerance absorbs float rounding when checking that configured
// weights sum to 1.0.
const weightTolerance = 1e-6

// ConfigSource returns the retriever section of the current configuration
// snapshot. Called once per search so reloads apply to the next event.
type ConfigSource func() *config.RetrieverConfig

// Hybrid decorates a vectorstore.Store. Search over-fetches candidates and
// re-ranks them by combined vector similarity and metadata score; every
// other Store operation passes through unchanged.
type Hybrid struct {
	inner  vectorstore.Store
	source ConfigSource
	logger *slog.Logger

	// clock is swappable for recency tests.
	clock func() time.Time

	totalSearches    atomic.Uint64
	hybridSearches   atomic.Uint64
	fallbackSearches atomic.Uint64

	warnedInvalid atomic.Bool
}

var _ vectorstore.Store = (*Hybrid)(nil)

// New decorates inner. source must never return nil.
func New(inner vectorstore.Store, source ConfigSource) *Hybrid {
	return &Hybrid{
		inner:  inner,
		source: source,
		logger: slog.With("component", "retriever"),
		clock:  time.Now,
	}
}

// EnsureCollection implements vectorstore.Store.
func (h *Hybrid) EnsureCollection(ctx context.Context) error {
	return h.inner.EnsureCollection(ctx)
}

// Upsert implements vectorstore.Store.
func (h *Hybrid) Upsert(ctx context.Context, event models.LogEvent, vector []float32, risk models.RiskLevel) error {
	return h.inner.Upsert(ctx, event, vector, risk)
}

// BatchUpsert implements vectorstore.Store.
func (h *Hybrid) BatchUpsert(ctx context.Context, points []vectorstore.Point) error {
	return h.inner.BatchUpsert(ctx, points)
}

// Has24HoursOfData implements vectorstore.Store.
func (h *Hybrid) Has24HoursOfData(ctx context.Context) (bool, error) {
	return h.inner.Has24HoursOfData(ctx)
}

// DeleteVectorsOlderThan24Hours implements vectorstore.Store.
func (h *Hybrid) DeleteVectorsOlderThan24Hours(ctx context.Context) {
	h.inner.DeleteVectorsOlderThan24Hours(ctx)
}

// Search implements vectorstore.Store. With a valid hybrid configuration it
// fetches ceil(k * OverFetchMultiplier) candidates, scores each one as
//
//	vectorWeight*similarity + metadataWeight*metadata
//	metadata = recencyWeight*exp(-ageHours/decay) + riskLevelWeight*riskScore
//
// and returns the top k. An invalid configuration degrades to plain vector
// search. When the over-fetch fails the search retries once without
// re-ranking; a second failure yields an empty result so callers keep going.
func (h *Hybrid) Search(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchHit, error) {
	h.totalSearches.Add(1)

	cfg := h.source()
	if !h.hybridUsable(cfg) {
		return h.inner.Search(ctx, vector, k)
	}

	overFetch := int(math.Ceil(float64(k) * cfg.OverFetchMultiplier))
	hits, err := h.inner.Search(ctx, vector, overFetch)
	if err != nil {
		h.fallbackSearches.Add(1)
		h.logger.Warn("Hybrid search failed, falling back to plain vector search", "error", err)

		hits, err = h.inner.Search(ctx, vector, k)
		if err != nil {
			h.logger.Warn("Fallback search failed, returning no neighbours", "error", err)
			return nil, nil
		}
		return hits, nil
	}

	h.hybridSearches.Add(1)
	return h.rerank(cfg, hits, k), nil
}

// hybridUsable validates the weight configuration, logging a warning on the
// first search that sees an invalid one.
func (h *Hybrid) hybridUsable(cfg *config.RetrieverConfig) bool {
	if cfg == nil || !cfg.Enabled {
		return false
	}

	valid := cfg.OverFetchMultiplier >= 1.0 &&
		cfg.VectorWeight >= 0 && cfg.MetadataWeight >= 0 &&
		math.Abs(cfg.VectorWeight+cfg.MetadataWeight-1.0) <= weightTolerance &&
		cfg.RecencyWeight >= 0 && cfg.RiskLevelWeight >= 0 &&
		cfg.RecencyWeight+cfg.RiskLevelWeight <= 1.0+weightTolerance &&
		cfg.RecencyDecayHours > 0

	if !valid {
		if h.warnedInvalid.CompareAndSwap(false, true) {
			h.logger.Warn("Invalid hybrid weights, degrading to plain vector search",
				"vector_weight", cfg.VectorWeight,
				"metadata_weight", cfg.MetadataWeight,
				"recency_weight", cfg.RecencyWeight,
				"risk_level_weight", cfg.RiskLevelWeight,
				"over_fetch_multiplier", cfg.OverFetchMultiplier)
		}
		return false
	}

	h.warnedInvalid.Store(false)
	return true
}

type scoredHit struct {
	vectorstore.SearchHit
	combined float64
}

func (h *Hybrid) rerank(cfg *config.RetrieverConfig, hits []vectorstore.SearchHit, k int) []vectorstore.SearchHit {
	if len(hits) == 0 {
		return nil
	}

	now := h.clock()
	scored := make([]scoredHit, 0, len(hits))
	for _, hit := range hits {
		meta := cfg.RecencyWeight*recencyScore(now, hit, cfg.RecencyDecayHours) +
			cfg.RiskLevelWeight*models.RiskLevel(hit.RiskLevel).Score()
		scored = append(scored, scoredHit{
			SearchHit: hit,
			combined:  cfg.VectorWeight*hit.Score + cfg.MetadataWeight*meta,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].combined != scored[j].combined {
			return scored[i].combined > scored[j].combined
		}
		if !scored[i].IndexedAt.Equal(scored[j].IndexedAt) {
			return scored[i].IndexedAt.After(scored[j].IndexedAt)
		}
		return scored[i].Event.UniqueID < scored[j].Event.UniqueID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	out := make([]vectorstore.SearchHit, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.SearchHit)
	}
	return out
}

// recencyScore decays exponentially with event age. Events carrying no
// timestamp fall back to their indexing time; future timestamps count as
// age zero.
func recencyScore(now time.Time, hit vectorstore.SearchHit, decayHours float64) float64 {
	ref := hit.Event.Time
	if ref.IsZero() {
		ref = hit.IndexedAt
	}
	ageHours := now.Sub(ref).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / decayHours)
}

// Stats is a point-in-time snapshot of search activity.
type Stats struct {
	TotalSearches    uint64  `json:"totalSearches"`
	HybridSearches   uint64  `json:"hybridSearches"`
	FallbackSearches uint64  `json:"fallbackSearches"`
	HybridRate       float64 `json:"hybridRate"`
}

// Snapshot returns current counters. HybridRate is hybrid searches over
// total searches, zero when nothing ran yet.
func (h *Hybrid) Snapshot() Stats {
	total := h.totalSearches.Load()
	hybrid := h.hybridSearches.Load()

	rate := 0.0
	if total > 0 {
		rate = float64(hybrid) / float64(total)
	}
	return Stats{
		TotalSearches:    total,
		HybridSearches:   hybrid,
		FallbackSearches: h.fallbackSearches.Load(),
		HybridRate:       rate,
	}
}
