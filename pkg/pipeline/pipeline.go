// Package pipeline orchestrates one pass per collected event: embed the
// event text, retrieve similar recent events, ask the model for a
// classification, and emit the result to alerting, correlation, and the
// event sink. A bounded drop-oldest queue decouples the collector from the
// worker pool.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/correlation"
	"github.com/MLidstrom/Castellan-sub013/pkg/embed"
	"github.com/MLidstrom/Castellan-sub013/pkg/llm"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
	"github.com/MLidstrom/Castellan-sub013/pkg/vectorstore"
)

// ConfigSource returns the current configuration snapshot. Read once per
// event so reloads apply to in-flight work without restart.
type ConfigSource func() *config.Config

// Alerter receives emitted events for notification fan-out. Dispatch
// failures are reported but never block the pipeline.
type Alerter interface {
	SendSecurityAlert(ctx context.Context, event *models.SecurityEvent) error
	SendCorrelationAlert(ctx context.Context, event *models.SecurityEvent, corr *models.EventCorrelation) error
	SendAttackChainAlert(ctx context.Context, events []*models.SecurityEvent, chain *models.AttackChain) error
}

// Pipeline runs the analysis workers.
type Pipeline struct {
	source   ConfigSource
	embedder embed.Client
	store    vectorstore.Store
	analyzer llm.Client
	detector *correlation.Detector
	alerter  Alerter
	sink     EventSink
	logger   *slog.Logger

	queue    *queue
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	workers  int

	received      atomic.Uint64
	analyzed      atomic.Uint64
	deterministic atomic.Uint64
	degraded      atomic.Uint64
	indexed       atomic.Uint64
	correlations  atomic.Uint64
	sinkErrors    atomic.Uint64
}

// New builds a pipeline over the analysis collaborators. The queue is sized
// from the snapshot at construction; worker count and per-event knobs are
// re-read on every event. Alerting and correlation are attached with the
// setters below; the sink defaults to structured logging.
func New(source ConfigSource, embedder embed.Client, store vectorstore.Store, analyzer llm.Client) *Pipeline {
	return &Pipeline{
		source:   source,
		embedder: embedder,
		store:    store,
		analyzer: analyzer,
		sink:     NewLogSink(),
		logger:   slog.With("component", "pipeline"),
		queue:    newQueue(source().Pipeline.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// SetDetector attaches the correlation detector. Nil leaves correlation off.
func (p *Pipeline) SetDetector(d *correlation.Detector) { p.detector = d }

// SetAlerter attaches the notification fan-out. Nil leaves alerting off.
func (p *Pipeline) SetAlerter(a Alerter) { p.alerter = a }

// SetSink replaces the default logging sink.
func (p *Pipeline) SetSink(s EventSink) {
	if s != nil {
		p.sink = s
	}
}

// Start spawns the worker goroutines. Safe to call once; duplicate calls
// are ignored.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.started {
		p.logger.Warn("Pipeline already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	workers := p.source().Pipeline.Workers
	if workers <= 0 {
		workers = config.DefaultPipelineConfig().Workers
	}
	p.workers = workers

	p.logger.Info("Starting analysis pipeline", "workers", workers, "queue_capacity", p.queue.capacity())
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Stop signals the workers, lets them drain the queue, and waits for them
// to finish. Events arriving after Stop are dropped by the closed intake.
func (p *Pipeline) Stop() {
	p.logger.Info("Stopping analysis pipeline", "queued", p.queue.depth())
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("Analysis pipeline stopped")
}

// Enqueue hands one collected event to the workers. It never blocks: under
// back-pressure the oldest queued event is dropped first.
func (p *Pipeline) Enqueue(ev models.LogEvent) {
	select {
	case <-p.stopCh:
		return
	default:
	}
	p.received.Add(1)
	p.queue.push(ev)
	queueDepth.Set(float64(p.queue.depth()))
}

// Consume pumps events from ch into the queue until ch closes or the
// pipeline stops. The collector's historical and live channels are fed
// through here in sequence.
func (p *Pipeline) Consume(ch <-chan models.LogEvent) {
	for {
		select {
		case <-p.stopCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.Enqueue(ev)
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case ev := <-p.queue.ch:
					p.process(ctx, ev, logger)
				default:
					return
				}
			}
		case ev := <-p.queue.ch:
			p.process(ctx, ev, logger)
		}
	}
}

// process runs one embed, retrieve, analyze pass under the per-event
// deadline and emits the resulting security event.
func (p *Pipeline) process(ctx context.Context, ev models.LogEvent, logger *slog.Logger) {
	cfg := p.source()
	queueDepth.Set(float64(p.queue.depth()))

	deadline := cfg.Pipeline.EventDeadline
	if deadline <= 0 {
		deadline = config.DefaultPipelineConfig().EventDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	vector, embedErr := p.embedder.Embed(ctx, ev.SummaryText())
	if embedErr != nil {
		logger.Warn("Embedding failed, continuing without neighbours",
			"error", embedErr, "channel", ev.Channel, "event_id", ev.EventID)
	}

	var neighbors []models.LogEvent
	if embedErr == nil {
		hits, err := p.store.Search(ctx, vector, cfg.Retriever.TopK)
		if err != nil {
			logger.Warn("Neighbour search failed, analyzing without context",
				"error", err, "channel", ev.Channel, "event_id", ev.EventID)
		} else {
			neighbors = make([]models.LogEvent, 0, len(hits))
			for _, h := range hits {
				neighbors = append(neighbors, h.Event)
			}
		}
	}

	out := p.classify(ctx, ev, neighbors, cfg, logger)

	if embedErr == nil {
		if err := p.store.Upsert(ctx, ev, vector, out.Response.Risk); err != nil {
			logger.Warn("Vector index upsert failed",
				"error", err, "channel", ev.Channel, "event_id", ev.EventID)
		} else {
			p.indexed.Add(1)
			eventsIndexed.Inc()
		}
	}

	p.emit(ctx, out, logger)
}

// classify turns the model's answer into the emitted event, degrading to
// the rule table when the model is unreachable or fails. A usable model
// answer that lacks an event type inherits the rule's type without gaining
// deterministic provenance.
func (p *Pipeline) classify(ctx context.Context, ev models.LogEvent, neighbors []models.LogEvent, cfg *config.Config, logger *slog.Logger) models.SecurityEvent {
	var (
		r      rule
		ruleOK bool
	)
	if cfg.Pipeline.DeterministicRules {
		r, ruleOK = lookupRule(ev)
	}

	raw, err := p.analyzer.Analyze(ctx, ev, neighbors)
	if err != nil || raw == "" {
		if err != nil {
			logger.Warn("Analysis failed, degrading to rule table",
				"error", err, "channel", ev.Channel, "event_id", ev.EventID)
		}
		return p.degrade(ev, r, ruleOK)
	}

	var resp models.LlmSecurityEventResponse
	if uerr := json.Unmarshal([]byte(raw), &resp); uerr != nil {
		logger.Warn("Analysis answer unparseable, degrading to rule table",
			"error", uerr, "channel", ev.Channel, "event_id", ev.EventID)
		return p.degrade(ev, r, ruleOK)
	}

	if ruleOK && (!resp.EventType.IsValid() || resp.EventType == models.EventTypeUnknown) {
		resp.EventType = r.EventType
	}
	p.analyzed.Add(1)
	eventsProcessed.WithLabelValues(outcomeAnalyzed).Inc()
	return models.NewSecurityEvent(ev, resp, false)
}

// degrade emits the rule-table classification when one matches, otherwise
// the canned fallback marked for manual review.
func (p *Pipeline) degrade(ev models.LogEvent, r rule, ruleOK bool) models.SecurityEvent {
	if ruleOK {
		p.deterministic.Add(1)
		eventsProcessed.WithLabelValues(outcomeDeterministic).Inc()
		return models.NewSecurityEvent(ev, r.response(ev), true)
	}
	p.degraded.Add(1)
	eventsProcessed.WithLabelValues(outcomeDegraded).Inc()
	return models.NewSecurityEvent(ev, models.FallbackResponse(""), false)
}

// emit fans the event out: alert, correlate, then sink. Correlation
// detections are alerted and sunk as their own events.
func (p *Pipeline) emit(ctx context.Context, event models.SecurityEvent, logger *slog.Logger) {
	if p.alerter != nil {
		if err := p.alerter.SendSecurityAlert(ctx, &event); err != nil {
			logger.Warn("Alert dispatch failed", "error", err)
		}
	}

	if p.detector != nil {
		for _, det := range p.detector.Observe(event) {
			p.correlations.Add(1)
			corrEvent := det.Event
			if p.alerter != nil {
				switch {
				case det.Chain != nil:
					correlationsDetected.WithLabelValues(string(models.CorrelationTypeAttackChain)).Inc()
					if err := p.alerter.SendAttackChainAlert(ctx, []*models.SecurityEvent{&corrEvent}, det.Chain); err != nil {
						logger.Warn("Attack chain alert dispatch failed", "error", err)
					}
				case det.Correlation != nil:
					correlationsDetected.WithLabelValues(string(det.Correlation.Type)).Inc()
					if err := p.alerter.SendCorrelationAlert(ctx, &corrEvent, det.Correlation); err != nil {
						logger.Warn("Correlation alert dispatch failed", "error", err)
					}
				}
			}
			p.forward(ctx, corrEvent, logger)
		}
	}

	p.forward(ctx, event, logger)
}

func (p *Pipeline) forward(ctx context.Context, event models.SecurityEvent, logger *slog.Logger) {
	if err := p.sink.Publish(ctx, event); err != nil {
		p.sinkErrors.Add(1)
		logger.Warn("Event sink publish failed", "error", err)
	}
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Received      uint64 `json:"received"`
	Analyzed      uint64 `json:"analyzed"`
	Deterministic uint64 `json:"deterministic"`
	Degraded      uint64 `json:"degraded"`
	Indexed       uint64 `json:"indexed"`
	Correlations  uint64 `json:"correlations"`
	Dropped       uint64 `json:"dropped"`
	SinkErrors    uint64 `json:"sinkErrors"`
	QueueDepth    int    `json:"queueDepth"`
	QueueCapacity int    `json:"queueCapacity"`
	Workers       int    `json:"workers"`
}

// Snapshot returns current counters.
func (p *Pipeline) Snapshot() Stats {
	return Stats{
		Received:      p.received.Load(),
		Analyzed:      p.analyzed.Load(),
		Deterministic: p.deterministic.Load(),
		Degraded:      p.degraded.Load(),
		Indexed:       p.indexed.Load(),
		Correlations:  p.correlations.Load(),
		Dropped:       p.queue.dropped.Load(),
		SinkErrors:    p.sinkErrors.Load(),
		QueueDepth:    p.queue.depth(),
		QueueCapacity: p.queue.capacity(),
		Workers:       p.workers,
	}
}
