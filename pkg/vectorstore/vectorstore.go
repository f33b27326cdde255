// Package vectorstore is the durable nearest-neighbour index for analyzed
// events, backed by a Qdrant collection over its REST API. Points live in a
// sliding retention window; anything older is swept.
package vectorstore

import (
	"context"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Point is one event plus its embedding, queued for indexing.
type Point struct {
	Event     models.LogEvent
	RiskLevel models.RiskLevel
	Vector    []float32
}

// SearchHit is one nearest-neighbour result.
type SearchHit struct {
	Event     models.LogEvent
	RiskLevel string
	IndexedAt time.Time
	Score     float64
}

// Store is the vector index contract the retriever decorates.
type Store interface {
	// EnsureCollection creates the collection if needed. An
	// already-exists conflict reads as success.
	EnsureCollection(ctx context.Context) error

	// Upsert indexes one event. An empty vector is rejected before any
	// transport happens.
	Upsert(ctx context.Context, event models.LogEvent, vector []float32, risk models.RiskLevel) error

	// BatchUpsert indexes a batch in one atomic request. Empty and nil
	// batches are no-ops. Points with empty vectors are dropped.
	BatchUpsert(ctx context.Context, points []Point) error

	// Search returns up to k hits ordered by descending score; ties break
	// by descending IndexedAt, then ascending event UniqueID. A missing
	// collection reads as empty.
	Search(ctx context.Context, vector []float32, k int) ([]SearchHit, error)

	// Has24HoursOfData reports whether the collection exists, is
	// non-empty, and holds at least one point inside the retention window.
	Has24HoursOfData(ctx context.Context) (bool, error)

	// DeleteVectorsOlderThan24Hours sweeps points older than the retention
	// window. Best-effort: failures are logged, never returned.
	DeleteVectorsOlderThan24Hours(ctx context.Context)
}
