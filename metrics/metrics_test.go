package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	name := "test-observe"
	defer Forget(name)

	ObserveWait(name, time.Millisecond, 3)
	ObserveWait(name, 2*time.Millisecond, 0)
	ObserveNotify(name)
	AddRegistrations(name, 5)
	AddRegistrations(name, -2)

	assert.Equal(t, float64(2), testutil.ToFloat64(Waits.WithLabelValues(name)))
	assert.Equal(t, float64(3), testutil.ToFloat64(Events.WithLabelValues(name)))
	assert.Equal(t, float64(1), testutil.ToFloat64(Notifies.WithLabelValues(name)))
	assert.Equal(t, float64(3), testutil.ToFloat64(Registrations.WithLabelValues(name)))
}

func TestHandler(t *testing.T) {
	name := "test-handler"
	defer Forget(name)
	AddRegistrations(name, 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, defaultMetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `polling_registrations{poller="test-handler"} 1`))
}
