// Package metrics 暴露任务与模型调用的 Prometheus 指标
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsAnalysis struct {
	once sync.Once

	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec

	filesExtracted prometheus.Counter
	extractWarns   prometheus.Counter

	enrichRequests *prometheus.CounterVec
	enrichResults  *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec
	jobDuration   prometheus.Histogram
}

var m metricsAnalysis

func (m *metricsAnalysis) init() {
	m.once.Do(func() {
		m.jobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "docgen_jobs_submitted_total", Help: "Submitted analysis jobs"})
		m.jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docgen_jobs_finished_total", Help: "Finished analysis jobs by terminal status"}, []string{"status"})

		m.filesExtracted = prometheus.NewCounter(prometheus.CounterOpts{Name: "docgen_files_extracted_total", Help: "Source files processed by the extractor"})
		m.extractWarns = prometheus.NewCounter(prometheus.CounterOpts{Name: "docgen_files_extract_failed_total", Help: "Source files that failed extraction"})

		m.enrichRequests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docgen_llm_requests_total", Help: "Provider requests by outcome"}, []string{"outcome"})
		m.enrichResults = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docgen_enrichment_results_total", Help: "Per-file enrichment results"}, []string{"result"})

		buckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}
		m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "docgen_stage_seconds", Help: "Duration of pipeline stages", Buckets: buckets}, []string{"stage"})
		m.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "docgen_job_seconds", Help: "Total job duration", Buckets: buckets})

		prometheus.MustRegister(
			m.jobsSubmitted, m.jobsFinished,
			m.filesExtracted, m.extractWarns,
			m.enrichRequests, m.enrichResults,
			m.stageDuration, m.jobDuration,
		)
	})
}

// Init 注册全部指标，服务启动时调用
func Init() { m.init() }

func JobSubmitted() { m.init(); m.jobsSubmitted.Inc() }

func JobFinished(status string, seconds float64) {
	m.init()
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.Observe(seconds)
}

func FileExtracted(failed bool) {
	m.init()
	m.filesExtracted.Inc()
	if failed {
		m.extractWarns.Inc()
	}
}

// ProviderRequest outcome: success / throttled / transient / error
func ProviderRequest(outcome string) { m.init(); m.enrichRequests.WithLabelValues(outcome).Inc() }

// EnrichmentResult result: available 或失败分类
func EnrichmentResult(result string) { m.init(); m.enrichResults.WithLabelValues(result).Inc() }

func StageDuration(stage string, seconds float64) {
	m.init()
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}
