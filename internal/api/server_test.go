package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/inn-enricher/internal/config"
	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/learning"
	"github.com/JakeFAU/inn-enricher/internal/scheduler"
	"github.com/JakeFAU/inn-enricher/internal/storage/memory"
)

type testEnv struct {
	server   *Server
	jobs     *scheduler.Coordinator
	learning *learning.FileStore
}

func newTestEnv(t *testing.T, cfg config.Config, ready func(context.Context) error) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	jobs := scheduler.New(scheduler.NewJobCache(memory.NewJobStore()), nil, clock, scheduler.Config{}, zap.NewNop())
	store := learning.NewMemory(clock)
	server := NewServer(Deps{
		Jobs:     jobs,
		Learning: store,
		IDs:      &fakeIDGen{ids: []string{"job-generated"}},
		Ready:    ready,
	}, cfg, zap.NewNop())
	return &testEnv{server: server, jobs: jobs, learning: store}
}

func (e *testEnv) do(method, target string, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_EnqueueJob_GeneratesID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	rec := env.do(http.MethodPost, "/v1/jobs", `{"domains":["https://www.a.ru/","b.ru","a.ru"]}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body jobStatusDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "job-generated", body.JobID)
	require.Equal(t, enrich.JobStatusQueued, body.Status)
	require.Equal(t, 2, body.Total)

	job, err := env.jobs.Status(context.Background(), "job-generated")
	require.NoError(t, err)
	require.Equal(t, []string{"a.ru", "b.ru"}, job.Domains)
}

func TestServer_EnqueueJob_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/v1/jobs", `{"job_id":"nightly","domains":["a.ru"]}`).Code)

	cases := []struct {
		body string
		code int
		want string
	}{
		{`{invalid`, http.StatusBadRequest, "invalid JSON"},
		{`{"domains":["a.ru"],"urls":[]}`, http.StatusBadRequest, "invalid JSON"},
		{`{"job_id":"bad id","domains":["a.ru"]}`, http.StatusBadRequest, "job id must be"},
		{`{"job_id":"empty","domains":["  "]}`, http.StatusBadRequest, "at least one domain"},
		{`{"job_id":"nightly","domains":["c.ru"]}`, http.StatusConflict, "already exists"},
	}
	for _, tc := range cases {
		rec := env.do(http.MethodPost, "/v1/jobs", tc.body)
		require.Equal(t, tc.code, rec.Code, tc.body)
		require.Contains(t, rec.Body.String(), tc.want, tc.body)
	}
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	_, err := env.jobs.Enqueue(context.Background(), "job-status", []string{"a.ru", "b.ru"})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/v1/jobs/job-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"queued"`)
	require.Contains(t, rec.Body.String(), `"total":2`)

	rec = env.do(http.MethodGet, "/v1/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	for _, id := range []string{"j1", "j2", "j3"} {
		_, err := env.jobs.Enqueue(context.Background(), id, []string{id + ".ru"})
		require.NoError(t, err)
	}

	rec := env.do(http.MethodGet, "/v1/jobs?status=queued&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []jobStatusDTO `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 2)

	rec = env.do(http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jobs":[]}`, rec.Body.String())

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/jobs?status=paused", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/jobs?limit=-1", "").Code)
}

func TestServer_ListJobs_StoreError(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Jobs: failingJobs{}}, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Learning(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	rec := env.do(http.MethodPost, "/v1/learning/manual",
		`{"domain":"www.c.ru","data_type":"tax_id","url":"https://c.ru/o-kompanii/rekvizity"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"domain":"c.ru"`)
	require.Equal(t, []string{"/o-kompanii/rekvizity"}, env.learning.PriorityURLs("c.ru", enrich.DataTaxID))

	rec = env.do(http.MethodPost, "/v1/learning/manual", `{"domain":"c.ru","data_type":"phone","url":"/x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPost, "/v1/learning/manual", `{"domain":"c.ru","data_type":"email","url":"https://other.ru/contacts"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPost, "/v1/learning/manual", `{"domain":"c.ru","data_type":"email"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/v1/learning?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary learning.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.Domains, 1)
	require.Equal(t, "c.ru", summary.Domains[0].Domain)

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/learning?limit=abc", "").Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")

	down := newTestEnv(t, config.Config{}, func(context.Context) error { return errors.New("database is locked") })
	rec = down.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "job store unavailable")
}

func TestServer_APIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}, nil)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	rec := env.do(http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid api key")
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/v1/jobs", "", "X-API-Key", "secre").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/jobs", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/jobs?api_key=secret", "").Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, nil)
	require.NotEmpty(t, env.do(http.MethodGet, "/healthz", "").Header().Get("X-Request-ID"))
	rec := env.do(http.MethodGet, "/healthz", "", "X-Request-ID", "req-42")
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Jobs: panickyJobs{}}, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestAccessLogRecordsStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(Deps{Jobs: failingJobs{}}, config.Config{}, zap.New(core))
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	req.Header.Set("X-Request-ID", "req-7")
	server.Handler().ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	require.Equal(t, "req-7", fields["request_id"])
	require.Equal(t, zap.WarnLevel, entries[0].Level)
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type failingJobs struct{}

func (failingJobs) Enqueue(context.Context, string, []string) (enrich.Job, error) {
	return enrich.Job{}, errors.New("boom")
}

func (failingJobs) Status(context.Context, string) (enrich.Job, error) {
	return enrich.Job{}, errors.New("boom")
}

func (failingJobs) List(context.Context, enrich.JobStatus, int) ([]enrich.Job, error) {
	return nil, errors.New("boom")
}

type panickyJobs struct{ failingJobs }

func (panickyJobs) Status(context.Context, string) (enrich.Job, error) {
	panic("nil map")
}
