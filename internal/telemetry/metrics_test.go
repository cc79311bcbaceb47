package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	ErrorCallbacks.WithLabelValues("retried").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(ErrorCallbacks.WithLabelValues("retried")), 1.0)

	// Registration is idempotent.
	_ = Handler()
	h := Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ocr_error_callbacks_total")
}
