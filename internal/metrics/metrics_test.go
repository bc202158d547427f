package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentHandlerLabelsByRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(InstrumentHandler)
	router.Get("/api/clothes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/clothes/{id}", "404"))

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/clothes/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/clothes/{id}", "404"))
	assert.Equal(t, 3.0, after-before)
}

func TestObserveCounters(t *testing.T) {
	success := testutil.ToFloat64(ingestResults.WithLabelValues("success"))
	failure := testutil.ToFloat64(ingestResults.WithLabelValues("failure"))

	ObserveIngest(nil)
	ObserveIngest(errors.New("x"))
	ObserveIngest(errors.New("y"))

	assert.Equal(t, 1.0, testutil.ToFloat64(ingestResults.WithLabelValues("success"))-success)
	assert.Equal(t, 2.0, testutil.ToFloat64(ingestResults.WithLabelValues("failure"))-failure)
}

func TestHandlerServesRegistry(t *testing.T) {
	ObserveGeneration(nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "digiclo_generation_requests_total")
}
