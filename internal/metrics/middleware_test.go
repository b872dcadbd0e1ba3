package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil),
		httptest.NewRequest(http.MethodGet, "/v1/jobs/def", nil),
		httptest.NewRequest(http.MethodPost, "/v1/jobs", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.InDelta(t, 2, testutil.ToFloat64(c.apiRequests.WithLabelValues("GET", "/v1/jobs/{job_id}", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.apiRequests.WithLabelValues("POST", "/v1/jobs", "409")), 0)
	require.Positive(t, testutil.CollectAndCount(c.apiSeconds))
}
