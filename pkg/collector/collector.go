// Package collector tails Windows Event Log channels and replays recent
// history, producing cancellable sequences of LogEvents. Positions are
// persisted per channel so restarts resume instead of re-reading.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MLidstrom/Castellan-sub013/pkg/bookmark"
	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// reconnectBackoff is the delay ladder applied when a channel query fails.
// The last step repeats until the channel recovers.
var reconnectBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// historicalLookback is how far back CollectHistorical replays.
const historicalLookback = 24 * time.Hour

// queryBatchSize caps records per wevtutil invocation. Larger result sets
// are drained by advancing the time bound and re-querying.
const queryBatchSize = 512

// maxHistoricalChannels bounds concurrent historical replays.
const maxHistoricalChannels = 4

// Collector produces LogEvent sequences from the configured channels.
type Collector struct {
	cfg       *config.CollectorConfig
	querier   Querier
	bookmarks bookmark.Store
	channels  []string
	logger    *slog.Logger
	stats     Stats
}

// New builds a collector. The bookmark store may be nil, in which case
// positions are kept only in memory for the life of the process.
func New(cfg *config.CollectorConfig, querier Querier, bookmarks bookmark.Store) (*Collector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("collector config is required")
	}
	if querier == nil {
		querier = NewWevtutilQuerier()
	}

	channels := dedupe(cfg.Channels)
	if len(channels) == 0 {
		return nil, fmt.Errorf("no event channels configured")
	}

	return &Collector{
		cfg:       cfg,
		querier:   querier,
		bookmarks: bookmarks,
		channels:  channels,
		logger:    slog.With("component", "collector"),
	}, nil
}

// Stats reports collection counters. All fields are updated atomically.
type Stats struct {
	Collected    atomic.Uint64
	QueryErrors  atomic.Uint64
	Reconnects   atomic.Uint64
	SkewClamped  atomic.Uint64
	BookmarkErrs atomic.Uint64
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Collector) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Collected:    c.stats.Collected.Load(),
		QueryErrors:  c.stats.QueryErrors.Load(),
		Reconnects:   c.stats.Reconnects.Load(),
		SkewClamped:  c.stats.SkewClamped.Load(),
		BookmarkErrs: c.stats.BookmarkErrs.Load(),
	}
}

// StatsSnapshot is a plain-value copy of Stats.
type StatsSnapshot struct {
	Collected    uint64 `json:"collected"`
	QueryErrors  uint64 `json:"queryErrors"`
	Reconnects   uint64 `json:"reconnects"`
	SkewClamped  uint64 `json:"skewClamped"`
	BookmarkErrs uint64 `json:"bookmarkErrs"`
}

// CollectLive tails every configured channel until ctx is cancelled. The
// returned channel is closed after all channel tails have stopped. Channel
// errors back off and retry; they never terminate the sequence.
func (c *Collector) CollectLive(ctx context.Context) <-chan models.LogEvent {
	out := make(chan models.LogEvent, c.cfg.QueueSize)

	var wg sync.WaitGroup
	for _, channel := range c.channels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			c.tailChannel(ctx, channel, out)
		}(channel)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// CollectHistorical replays the last 24 h of every configured channel and
// terminates. Access errors on individual channels are logged and skipped.
func (c *Collector) CollectHistorical(ctx context.Context) <-chan models.LogEvent {
	out := make(chan models.LogEvent, c.cfg.QueueSize)
	since := time.Now().Add(-historicalLookback)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxHistoricalChannels)

	for _, channel := range c.channels {
		channel := channel
		g.Go(func() error {
			pos := position{time: since}
			if err := c.drainChannel(gctx, channel, &pos, out); err != nil {
				c.stats.QueryErrors.Add(1)
				c.logger.Warn("Historical replay skipped channel",
					"channel", channel, "error", err)
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
	}()

	return out
}

// position tracks the resume point inside one channel.
type position struct {
	time     time.Time
	recordID uint64
}

// tailChannel is the live loop for one channel: resume from the bookmark,
// poll, emit, persist, back off on failure.
func (c *Collector) tailChannel(ctx context.Context, channel string, out chan<- models.LogEvent) {
	logger := c.logger.With("channel", channel)

	pos := c.loadPosition(ctx, channel)
	logger.Info("Tailing channel", "since", pos.time, "record_id", pos.recordID)

	backoffIdx := -1
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.drainChannel(ctx, channel, &pos, out)
		switch {
		case err == nil:
			if backoffIdx >= 0 {
				logger.Info("Channel recovered")
				backoffIdx = -1
			}
			if !sleepCtx(ctx, c.cfg.PollInterval) {
				return
			}
		case ctx.Err() != nil:
			return
		default:
			c.stats.QueryErrors.Add(1)
			c.stats.Reconnects.Add(1)
			if backoffIdx < len(reconnectBackoff)-1 {
				backoffIdx++
			}
			delay := reconnectBackoff[backoffIdx]
			logger.Warn("Channel query failed, backing off",
				"error", err, "retry_in", delay)
			if !sleepCtx(ctx, delay) {
				return
			}
		}
	}
}

// drainChannel queries from pos until a short batch comes back, emitting
// each new record and advancing pos. The bookmark is persisted after every
// non-empty batch.
func (c *Collector) drainChannel(ctx context.Context, channel string, pos *position, out chan<- models.LogEvent) error {
	for {
		xpath := c.buildQuery(pos.time)
		batch, err := c.querier.Query(ctx, channel, xpath, queryBatchSize)
		if err != nil {
			return err
		}

		emitted := 0
		for _, raw := range batch {
			// The time bound is inclusive, so the boundary record and
			// anything already consumed comes back again. Record ids are
			// monotonic per channel.
			if raw.RecordID != 0 && raw.RecordID <= pos.recordID {
				continue
			}

			ev := c.normalize(raw.Event)
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}

			emitted++
			c.stats.Collected.Add(1)
			if raw.RecordID > pos.recordID {
				pos.recordID = raw.RecordID
			}
			if ev.Time.After(pos.time) {
				pos.time = ev.Time
			}
		}

		if emitted > 0 {
			c.savePosition(ctx, channel, pos)
		}
		if len(batch) < queryBatchSize {
			return nil
		}
		if emitted == 0 {
			// A full batch of already-consumed boundary records cannot
			// advance the position on its own. Nudge the time bound past
			// the boundary millisecond instead of re-reading it forever.
			pos.time = pos.time.Add(time.Millisecond)
		}
	}
}

// buildQuery returns the XPath for records at or after since, honoring the
// configured filter override and minimum level.
func (c *Collector) buildQuery(since time.Time) string {
	if c.cfg.Filter != "" {
		return c.cfg.Filter
	}

	timeClause := fmt.Sprintf("TimeCreated[@SystemTime>='%s']",
		since.UTC().Format("2006-01-02T15:04:05.000Z"))

	levelClause := ""
	switch c.cfg.MinLevel {
	case "Critical":
		levelClause = "Level=1 and "
	case "Error":
		levelClause = "(Level=1 or Level=2) and "
	case "Warning":
		levelClause = "(Level>=1 and Level<=3) and "
	}

	return fmt.Sprintf("*[System[%s%s]]", levelClause, timeClause)
}

// normalize clamps timestamps that lead the local clock by more than the
// configured skew. Agents with broken clocks otherwise park events in the
// future and break recency scoring.
func (c *Collector) normalize(ev models.LogEvent) models.LogEvent {
	if c.cfg.MaxClockSkew <= 0 {
		return ev
	}
	limit := time.Now().Add(c.cfg.MaxClockSkew)
	if ev.Time.After(limit) {
		ev.Time = time.Now().UTC()
		ev.UniqueID = ev.ComputeUniqueID()
		c.stats.SkewClamped.Add(1)
	}
	return ev
}

func (c *Collector) loadPosition(ctx context.Context, channel string) position {
	if c.bookmarks != nil {
		bm, err := c.bookmarks.Load(ctx, channel)
		if err != nil {
			c.stats.BookmarkErrs.Add(1)
			c.logger.Warn("Bookmark load failed, starting from now",
				"channel", channel, "error", err)
		} else if bm != nil {
			return position{time: bm.Time, recordID: bm.RecordID}
		}
	}
	return position{time: time.Now()}
}

func (c *Collector) savePosition(ctx context.Context, channel string, pos *position) {
	if c.bookmarks == nil {
		return
	}
	err := c.bookmarks.Save(ctx, &bookmark.Bookmark{
		Channel:   channel,
		RecordID:  pos.recordID,
		Time:      pos.time,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		c.stats.BookmarkErrs.Add(1)
		c.logger.Warn("Bookmark save failed", "channel", channel, "error", err)
	}
}

// sleepCtx waits d or until ctx is done; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func dedupe(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		key := strings.ToLower(ch)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ch)
	}
	return out
}
