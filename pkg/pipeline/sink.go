package pipeline

import (
	"context"
	"log/slog"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// EventSink receives every emitted security event after notification
// hand-off. Implementations forward to an external event store or SIEM.
type EventSink interface {
	Publish(ctx context.Context, event models.SecurityEvent) error
}

// LogSink writes emitted events to the structured log. It is the sink of
// last resort when nothing external is wired.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns the default sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: slog.With("component", "event_sink")}
}

// Publish implements EventSink.
func (s *LogSink) Publish(_ context.Context, event models.SecurityEvent) error {
	s.logger.Info("Security event",
		"risk", event.Response.Risk,
		"event_type", event.Response.EventType,
		"confidence", event.Response.Confidence,
		"host", event.OriginalEvent.Host,
		"channel", event.OriginalEvent.Channel,
		"event_id", event.OriginalEvent.EventID,
		"deterministic", event.IsDeterministic,
		"correlation", event.IsCorrelationBased,
		"summary", event.Response.Summary,
	)
	return nil
}
