package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Init()

	submitted := testutil.ToFloat64(m.jobsSubmitted)
	JobSubmitted()
	assert.Equal(t, submitted+1, testutil.ToFloat64(m.jobsSubmitted))

	failed := testutil.ToFloat64(m.jobsFinished.WithLabelValues("failed"))
	JobFinished("failed", 3)
	assert.Equal(t, failed+1, testutil.ToFloat64(m.jobsFinished.WithLabelValues("failed")))

	files := testutil.ToFloat64(m.filesExtracted)
	warns := testutil.ToFloat64(m.extractWarns)
	FileExtracted(false)
	FileExtracted(true)
	assert.Equal(t, files+2, testutil.ToFloat64(m.filesExtracted))
	assert.Equal(t, warns+1, testutil.ToFloat64(m.extractWarns))

	throttled := testutil.ToFloat64(m.enrichRequests.WithLabelValues("throttled"))
	ProviderRequest("throttled")
	assert.Equal(t, throttled+1, testutil.ToFloat64(m.enrichRequests.WithLabelValues("throttled")))

	available := testutil.ToFloat64(m.enrichResults.WithLabelValues("available"))
	EnrichmentResult("available")
	assert.Equal(t, available+1, testutil.ToFloat64(m.enrichResults.WithLabelValues("available")))
}

func TestInit_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
		StageDuration("extracting", 0.4)
	})
}
