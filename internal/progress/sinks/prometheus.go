package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/progress"
)

// PrometheusSink exports enrichment progress metrics via Prometheus. It owns
// the collectors for jobs, per-domain outcomes and CAPTCHA waits.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	domainsTotal   *prometheus.CounterVec
	domainDuration *prometheus.HistogramVec
	captchaWaits   *prometheus.CounterVec
	captchaPending prometheus.Gauge

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_jobs_started_total",
			Help: "Total jobs that have started (including resumes).",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_jobs_completed_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_job_runtime_seconds",
			Help:    "Wall time per finished job run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		domainsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_domains_total",
			Help: "Processed domains partitioned by winning tier and whether a tax id was found.",
		}, []string{"tier", "found"}),
		domainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_domain_duration_seconds",
			Help:    "Extraction time per domain partitioned by winning tier.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"tier"}),
		captchaWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_captcha_waits_total",
			Help: "CAPTCHA wait states partitioned by stage.",
		}, []string{"stage"}),
		captchaPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_captcha_pending",
			Help: "Browser tabs currently waiting for an operator to solve a CAPTCHA.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.domainsTotal,
		s.domainDuration,
		s.captchaWaits,
		s.captchaPending,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageDomainDone:
		s.handleDomainEvent(evt)
	case progress.StageCaptchaWait:
		s.captchaWaits.WithLabelValues("wait").Inc()
		s.captchaPending.Inc()
	case progress.StageCaptchaCleared:
		s.captchaWaits.WithLabelValues("cleared").Inc()
		s.captchaPending.Dec()
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("completed").Inc()
		s.observeRuntime(evt, "completed")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("failed").Inc()
		s.observeRuntime(evt, "failed")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleDomainEvent(evt progress.Event) {
	tier := string(enrich.Strategy(evt.Strategy).Tier())
	if tier == "" {
		tier = "none"
	}
	s.domainsTotal.WithLabelValues(tier, strconv.FormatBool(evt.Found)).Inc()
	if evt.Dur > 0 {
		s.domainDuration.WithLabelValues(tier).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
