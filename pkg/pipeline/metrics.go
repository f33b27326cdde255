package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_pipeline_events_total",
		Help: "Analysis passes by outcome.",
	}, []string{"outcome"})

	queueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_pipeline_queue_dropped_total",
		Help: "Events evicted from the intake queue under back-pressure.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castellan_pipeline_queue_depth",
		Help: "Events waiting in the intake queue.",
	})

	eventsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castellan_pipeline_events_indexed_total",
		Help: "Analyzed events upserted into the vector store.",
	})

	correlationsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_correlation_detections_total",
		Help: "Correlation detections by type.",
	}, []string{"type"})
)

const (
	outcomeAnalyzed      = "analyzed"
	outcomeDeterministic = "deterministic"
	outcomeDegraded      = "degraded"
)
