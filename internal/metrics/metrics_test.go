package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTokenRefresh(t *testing.T) {
	before := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues("onedrive", "success"))

	RecordTokenRefresh("onedrive", true)

	after := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues("onedrive", "success"))
	assert.InDelta(t, before+1, after, 0.001)
}

func TestRecordChunk_BytesOnlyOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(bytesUploadedTotal)

	RecordChunk(100, true)
	RecordChunk(50, false)

	assert.InDelta(t, before+100, testutil.ToFloat64(bytesUploadedTotal), 0.001)
}

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(backendOperationsTotal.WithLabelValues("s3", "ReadFile", "error"))

	RecordOperation("s3", "ReadFile", false, 10*time.Millisecond)

	after := testutil.ToFloat64(backendOperationsTotal.WithLabelValues("s3", "ReadFile", "error"))
	assert.InDelta(t, before+1, after, 0.001)
}

func TestHandlerServesMetrics(t *testing.T) {
	SetProvidersLoaded(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orbital_providers_loaded 3")
}
