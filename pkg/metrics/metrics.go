// Package metrics exposes engine counters and histograms to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the engine components report to.
type Recorder interface {
	IncInstanceStarted(processID string)
	IncInstanceFinished(processID, status string)
	ObserveStep(stepType, status string, durationSeconds float64)
	IncStepRetry(stepType string)
	IncJobRun(outcome string)
	IncApprovalReminder()
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Job run outcomes.
const (
	JobFired     = "fired"
	JobClaimLost = "claim_lost"
	JobFailed    = "failed"
	JobScheduled = "scheduled"
)

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncInstanceStarted(string)                      {}
func (Noop) IncInstanceFinished(string, string)             {}
func (Noop) ObserveStep(string, string, float64)            {}
func (Noop) IncStepRetry(string)                            {}
func (Noop) IncJobRun(string)                               {}
func (Noop) IncApprovalReminder()                           {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	stepRetries       *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	reminders         prometheus.Counter
	requests          *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
}

// NewProm creates the collectors under namespace and registers them with reg.
func NewProm(namespace string, reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		instancesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Process instances started by process",
		}, []string{"process"}),
		instancesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_finished_total",
			Help:      "Process instances reaching a terminal status",
		}, []string{"process", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step handler latency by step type and outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step_type", "status"}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Step attempts scheduled after a failure",
		}, []string{"step_type"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_job_runs_total",
			Help:      "Scheduled job claims by outcome",
		}, []string{"outcome"}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_reminders_total",
			Help:      "Approval reminders sent",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		p.instancesStarted, p.instancesFinished, p.stepDuration, p.stepRetries,
		p.jobRuns, p.reminders, p.requests, p.requestLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Prom) IncInstanceStarted(processID string) {
	p.instancesStarted.WithLabelValues(processID).Inc()
}

func (p *Prom) IncInstanceFinished(processID, status string) {
	p.instancesFinished.WithLabelValues(processID, status).Inc()
}

func (p *Prom) ObserveStep(stepType, status string, durationSeconds float64) {
	p.stepDuration.WithLabelValues(stepType, status).Observe(durationSeconds)
}

func (p *Prom) IncStepRetry(stepType string) {
	p.stepRetries.WithLabelValues(stepType).Inc()
}

func (p *Prom) IncJobRun(outcome string) {
	p.jobRuns.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncApprovalReminder() {
	p.reminders.Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.requestLatency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
