package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records metadata for background jobs (sync, image materializer).
type JobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec

	pagesFetched     *prometheus.CounterVec
	itemsUpserted    *prometheus.CounterVec
	itemsDeleted     *prometheus.CounterVec
	imagesDownloaded prometheus.Counter
	imageFailures    prometheus.Counter
}

// NewJobMetrics registers the job metrics on the provided registerer. A nil
// registerer yields a no-op collector set.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of background jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_success",
		Help: "Successful background job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failure",
		Help: "Failed background job executions.",
	}, []string{"job"})
	pagesFetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_pages_fetched_total",
		Help: "Remote API pages fetched, by endpoint.",
	}, []string{"endpoint"})
	itemsUpserted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_upserted_total",
		Help: "Catalog rows upserted during sync, by entity.",
	}, []string{"entity"})
	itemsDeleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_deleted_total",
		Help: "Catalog rows removed by cleanup phases, by entity.",
	}, []string{"entity"})
	imagesDownloaded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "images_downloaded_total",
		Help: "Blobs successfully materialized into the local cache.",
	})
	imageFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "images_failed_total",
		Help: "Blob downloads that were discarded.",
	})
	reg.MustRegister(duration, success, failure, pagesFetched, itemsUpserted, itemsDeleted, imagesDownloaded, imageFailures)
	return &JobMetrics{
		duration:         duration,
		success:          success,
		failure:          failure,
		pagesFetched:     pagesFetched,
		itemsUpserted:    itemsUpserted,
		itemsDeleted:     itemsDeleted,
		imagesDownloaded: imagesDownloaded,
		imageFailures:    imageFailures,
	}
}

// ObserveDuration records the duration for the named job.
func (m *JobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *JobMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *JobMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddPagesFetched counts fetched pages for the endpoint label.
func (m *JobMetrics) AddPagesFetched(endpoint string, n int) {
	if m == nil || m.pagesFetched == nil {
		return
	}
	m.pagesFetched.WithLabelValues(normalizeLabel(endpoint)).Add(float64(n))
}

// AddItemsUpserted counts upserted rows for the entity label.
func (m *JobMetrics) AddItemsUpserted(entity string, n int) {
	if m == nil || m.itemsUpserted == nil {
		return
	}
	m.itemsUpserted.WithLabelValues(normalizeLabel(entity)).Add(float64(n))
}

// AddItemsDeleted counts deleted rows for the entity label.
func (m *JobMetrics) AddItemsDeleted(entity string, n int) {
	if m == nil || m.itemsDeleted == nil {
		return
	}
	m.itemsDeleted.WithLabelValues(normalizeLabel(entity)).Add(float64(n))
}

// IncImageDownloaded counts one materialized blob.
func (m *JobMetrics) IncImageDownloaded() {
	if m == nil || m.imagesDownloaded == nil {
		return
	}
	m.imagesDownloaded.Inc()
}

// IncImageFailure counts one discarded download.
func (m *JobMetrics) IncImageFailure() {
	if m == nil || m.imageFailures == nil {
		return
	}
	m.imageFailures.Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return strings.ReplaceAll(trimmed, " ", "_")
}
