package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsletter",
		Subsystem: "ingestion",
		Name:      "passes_total",
		Help:      "Ingestion passes by outcome (ready, degenerate, error).",
	}, []string{"outcome"})

	ingestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "newsletter",
		Subsystem: "ingestion",
		Name:      "duration_seconds",
		Help:      "Duration of ingestion passes.",
		Buckets:   prometheus.DefBuckets,
	})

	sectionsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "newsletter",
		Subsystem: "ingestion",
		Name:      "sections_available",
		Help:      "Sections with content in the latest snapshot.",
	})
)

func observeIngestion(outcome string, start time.Time, sections int) {
	ingestionsTotal.WithLabelValues(outcome).Inc()
	ingestionDuration.Observe(time.Since(start).Seconds())
	sectionsAvailable.Set(float64(sections))
}
