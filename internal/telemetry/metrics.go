package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_jobs_created_total", Help: "OCR jobs created"})
	JobsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_jobs_deduplicated_total", Help: "Submissions resolved to an existing job by idempotency key"})
	ResultsAccepted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_results_accepted_total", Help: "Success callbacks that moved a job to NEED_CONFIRM"})
	ErrorCallbacks   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ocr_error_callbacks_total", Help: "Error callbacks by outcome"}, []string{"outcome"})
	RepublishErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_republish_errors_total", Help: "Retry re-publishes that failed"})
	Decisions        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ocr_decisions_total", Help: "User confirmation decisions"}, []string{"decision"})
	PublishErrors    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ocr_publish_errors_total", Help: "Dispatcher publish failures by binding"}, []string{"binding"})
	SignatureRejects = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ocr_signature_rejects_total", Help: "Requests rejected by the signature gate"}, []string{"reason"})
	UploadRateLimits = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_upload_rate_limited_total", Help: "Uploads rejected by the daily quota"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsDeduplicated,
			ResultsAccepted,
			ErrorCallbacks,
			RepublishErrors,
			Decisions,
			PublishErrors,
			SignatureRejects,
			UploadRateLimits,
		)
	})
	return promhttp.Handler()
}
