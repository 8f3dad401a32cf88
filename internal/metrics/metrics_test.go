package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRecord(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveUpload("direct", "completed", 2*time.Second)
	c.ObserveUpload("direct", "completed", time.Second)
	c.ParserFallback()
	c.Files(3, 1)
	c.Skipped(4)
	c.Skipped(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.uploads.WithLabelValues("direct", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.parserFallbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.files.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.files.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.skipped))
}

func TestNilCollectorsAreNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveUpload("parser", "failed", time.Second)
		c.ParserFallback()
		c.Files(1, 1)
		c.Skipped(1)
	})
}
