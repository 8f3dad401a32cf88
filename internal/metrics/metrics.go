// Package metrics holds the Prometheus collectors for the ingest pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the ingest metrics. A nil *Collectors records nothing.
type Collectors struct {
	uploads         *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
	parserFallbacks prometheus.Counter
	files           *prometheus.CounterVec
	skipped         prometheus.Counter
}

var (
	defaultOnce       sync.Once
	defaultCollectors *Collectors
)

// Default returns collectors registered once on the global registry.
func Default() *Collectors {
	defaultOnce.Do(func() {
		defaultCollectors = New(prometheus.DefaultRegisterer)
	})
	return defaultCollectors
}

// New builds collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	c := &Collectors{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realm_uploads_total",
			Help: "Ingest attempts by effective method and final status",
		}, []string{"method", "status"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realm_upload_duration_seconds",
			Help:    "Wall time of an ingest",
			Buckets: buckets,
		}, []string{"method"}),
		parserFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realm_parser_fallbacks_total",
			Help: "Ingests that fell back to direct upload after a parser failure",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realm_upload_files_total",
			Help: "Extracted files by persistence result",
		}, []string{"result"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realm_extraction_skipped_total",
			Help: "Archive entries dropped by the extraction filters",
		}),
	}
	reg.MustRegister(c.uploads, c.uploadDuration, c.parserFallbacks, c.files, c.skipped)
	return c
}

// ObserveUpload records one finished ingest.
func (c *Collectors) ObserveUpload(method, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(method, status).Inc()
	c.uploadDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collectors) ParserFallback() {
	if c == nil {
		return
	}
	c.parserFallbacks.Inc()
}

// Files adds the per-file outcomes of one ingest.
func (c *Collectors) Files(processed, failed int) {
	if c == nil {
		return
	}
	c.files.WithLabelValues("processed").Add(float64(processed))
	c.files.WithLabelValues("failed").Add(float64(failed))
}

func (c *Collectors) Skipped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.skipped.Add(float64(n))
}
