package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
	"github.com/MLidstrom/Castellan-sub013/pkg/version"
)

// QdrantStore talks to a Qdrant collection over REST. One instance serves
// the whole process; the underlying http.Client pools connections.
type QdrantStore struct {
	endpoint   string
	collection string
	distance   string
	dimension  int
	apiKey     string
	window     time.Duration

	httpClient *http.Client
	logger     *slog.Logger
}

// NewQdrant builds the store from configuration. The retention window
// bounds both search visibility and the sweep cutoff.
func NewQdrant(cfg *config.VectorStoreConfig, retention *config.RetentionConfig) (*QdrantStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store config is required")
	}

	window := 24 * time.Hour
	if retention != nil && retention.Window > 0 {
		window = retention.Window
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	return &QdrantStore{
		endpoint:   cfg.Endpoint,
		collection: cfg.Collection,
		distance:   cfg.Distance,
		dimension:  cfg.Dimension,
		apiKey:     apiKey,
		window:     window,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.With("component", "vectorstore", "collection", cfg.Collection),
	}, nil
}

// pointPayload is the stored shape of one indexed event. IndexedAt is unix
// seconds so the backend can range-filter on it.
type pointPayload struct {
	Time      string `json:"time"`
	Host      string `json:"host"`
	Channel   string `json:"channel"`
	EventID   int    `json:"event_id"`
	Level     string `json:"level"`
	User      string `json:"user,omitempty"`
	Message   string `json:"message"`
	RawJSON   string `json:"raw_json,omitempty"`
	UniqueID  string `json:"unique_id"`
	RiskLevel string `json:"risk_level"`
	IndexedAt int64  `json:"indexed_at"`
}

func newPayload(event models.LogEvent, risk models.RiskLevel, indexedAt time.Time) pointPayload {
	return pointPayload{
		Time:      event.Time.UTC().Format(time.RFC3339Nano),
		Host:      event.Host,
		Channel:   event.Channel,
		EventID:   event.EventID,
		Level:     event.Level,
		User:      event.User,
		Message:   event.Message,
		RawJSON:   event.RawJSON,
		UniqueID:  event.UniqueID,
		RiskLevel: string(risk),
		IndexedAt: indexedAt.Unix(),
	}
}

func (p pointPayload) logEvent() models.LogEvent {
	t, _ := time.Parse(time.RFC3339Nano, p.Time)
	return models.LogEvent{
		Time:     t,
		Host:     p.Host,
		Channel:  p.Channel,
		EventID:  p.EventID,
		Level:    p.Level,
		User:     p.User,
		Message:  p.Message,
		RawJSON:  p.RawJSON,
		UniqueID: p.UniqueID,
	}
}

// pointID derives the backend point identifier. Qdrant accepts only UUIDs
// or unsigned integers, so the event's hash ID maps to a deterministic
// UUIDv5; the original UniqueID rides along in the payload.
func pointID(uniqueID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(uniqueID)).String()
}

type qdrantPoint struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload pointPayload `json:"payload"`
}

type rangeFilter struct {
	GTE *int64 `json:"gte,omitempty"`
	LT  *int64 `json:"lt,omitempty"`
}

type fieldCondition struct {
	Key   string      `json:"key"`
	Range rangeFilter `json:"range"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must"`
}

// indexedSince filters points whose IndexedAt is at or after t.
func indexedSince(t time.Time) *qdrantFilter {
	gte := t.Unix()
	return &qdrantFilter{Must: []fieldCondition{{Key: "indexed_at", Range: rangeFilter{GTE: &gte}}}}
}

// indexedBefore filters points whose IndexedAt is strictly before t.
func indexedBefore(t time.Time) *qdrantFilter {
	lt := t.Unix()
	return &qdrantFilter{Must: []fieldCondition{{Key: "indexed_at", Range: rangeFilter{LT: &lt}}}}
}

// EnsureCollection implements Store. Creating a collection that already
// exists answers 409, which counts as success.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": s.distance,
		},
	}

	status, _, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	switch {
	case status == http.StatusConflict:
		s.logger.Debug("Collection already exists")
		return nil
	case status >= 200 && status < 300:
		s.logger.Info("Collection ready", "dimension", s.dimension, "distance", s.distance)
		return nil
	default:
		return fmt.Errorf("create collection %s: backend returned HTTP %d", s.collection, status)
	}
}

// Upsert implements Store. Empty vectors mark a failed embedding and are
// never written.
func (s *QdrantStore) Upsert(ctx context.Context, event models.LogEvent, vector []float32, risk models.RiskLevel) error {
	if len(vector) == 0 {
		s.logger.Warn("Dropping point with empty vector", "unique_id", event.UniqueID)
		return nil
	}
	return s.BatchUpsert(ctx, []Point{{Event: event, RiskLevel: risk, Vector: vector}})
}

// BatchUpsert implements Store. The whole batch travels in one request so
// the backend applies it atomically at the record level.
func (s *QdrantStore) BatchUpsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	now := time.Now().UTC()
	qpoints := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			s.logger.Warn("Dropping point with empty vector", "unique_id", p.Event.UniqueID)
			continue
		}
		qpoints = append(qpoints, qdrantPoint{
			ID:      pointID(p.Event.UniqueID),
			Vector:  p.Vector,
			Payload: newPayload(p.Event, p.RiskLevel, now),
		})
	}
	if len(qpoints) == 0 {
		return nil
	}

	status, raw, err := s.do(ctx, http.MethodPut,
		"/collections/"+s.collection+"/points?wait=true",
		map[string]any{"points": qpoints})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(qpoints), err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("upsert %d points: backend returned HTTP %d: %s", len(qpoints), status, truncateBody(raw))
	}
	return nil
}

type qdrantSearchResult struct {
	Result []struct {
		Score   float64      `json:"score"`
		Payload pointPayload `json:"payload"`
	} `json:"result"`
}

// Search implements Store. Only points inside the retention window are
// visible. A missing collection reads as empty.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) ([]SearchHit, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       indexedSince(time.Now().Add(-s.window)),
	}

	status, raw, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", body)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("search: backend returned HTTP %d: %s", status, truncateBody(raw))
	}

	var out qdrantSearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]SearchHit, 0, len(out.Result))
	for _, r := range out.Result {
		hits = append(hits, SearchHit{
			Event:     r.Payload.logEvent(),
			RiskLevel: r.Payload.RiskLevel,
			IndexedAt: time.Unix(r.Payload.IndexedAt, 0).UTC(),
			Score:     r.Score,
		})
	}
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SortHits orders hits by descending score, breaking ties by descending
// IndexedAt and then ascending event UniqueID.
func SortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].IndexedAt.Equal(hits[j].IndexedAt) {
			return hits[i].IndexedAt.After(hits[j].IndexedAt)
		}
		return hits[i].Event.UniqueID < hits[j].Event.UniqueID
	})
}

type qdrantScrollResult struct {
	Result struct {
		Points []struct {
			ID any `json:"id"`
		} `json:"points"`
	} `json:"result"`
}

// Has24HoursOfData implements Store.
func (s *QdrantStore) Has24HoursOfData(ctx context.Context) (bool, error) {
	body := map[string]any{
		"limit":        1,
		"with_payload": false,
		"filter":       indexedSince(time.Now().Add(-s.window)),
	}

	status, raw, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/scroll", body)
	if err != nil {
		return false, fmt.Errorf("scroll: %w", err)
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, fmt.Errorf("scroll: backend returned HTTP %d: %s", status, truncateBody(raw))
	}

	var out qdrantScrollResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("decode scroll response: %w", err)
	}
	return len(out.Result.Points) > 0, nil
}

// DeleteVectorsOlderThan24Hours implements Store. Failures are logged and
// swallowed; the next sweep retries.
func (s *QdrantStore) DeleteVectorsOlderThan24Hours(ctx context.Context) {
	cutoff := time.Now().Add(-s.window)
	body := map[string]any{"filter": indexedBefore(cutoff)}

	status, raw, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", body)
	if err != nil {
		s.logger.Warn("Retention sweep failed", "error", err)
		return
	}
	if status == http.StatusNotFound {
		return
	}
	if status < 200 || status >= 300 {
		s.logger.Warn("Retention sweep rejected", "status", status, "body", truncateBody(raw))
		return
	}
	s.logger.Debug("Retention sweep completed", "cutoff", cutoff.UTC())
}

// do issues one JSON request and returns the status code and raw body.
func (s *QdrantStore) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func truncateBody(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
