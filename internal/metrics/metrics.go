package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paperpipe/internal/stage"
)

// Recorder holds the pipeline collectors on a private registry. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	itemsTotal      *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	degradedKeys    prometheus.Counter
	httpRetries     prometheus.Counter
	stateRecords    prometheus.Gauge
	lastSuccess     prometheus.Gauge
	sourceRecords   prometheus.Gauge
	journalRecovery prometheus.Counter
}

// New registers the pipeline collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paperpipe_runs_total",
			Help: "Pipeline runs by result",
		}, []string{"result"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paperpipe_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paperpipe_items_total",
			Help: "Per-item stage outcomes",
		}, []string{"stage", "outcome"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paperpipe_stage_failures_total",
			Help: "Per-item stage failures by error kind",
		}, []string{"stage", "kind"}),
		degradedKeys: factory.NewCounter(prometheus.CounterOpts{
			Name: "paperpipe_identity_keys_degraded_total",
			Help: "Records whose identity key fell back to a raw URL",
		}),
		httpRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "paperpipe_http_retries_total",
			Help: "HTTP attempts retried after a transient failure",
		}),
		stateRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paperpipe_state_records",
			Help: "Records in the state store after the last commit",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paperpipe_last_success_timestamp_seconds",
			Help: "Unix time of the last run that committed without error",
		}),
		sourceRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paperpipe_source_records",
			Help: "Records returned by the source adapter in the last run",
		}),
		journalRecovery: factory.NewCounter(prometheus.CounterOpts{
			Name: "paperpipe_merge_journal_recoveries_total",
			Help: "Runs that found pending merge journal rows at start",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveReport counts each result of a stage report.
func (r *Recorder) ObserveReport(report stage.Report) {
	if r == nil {
		return
	}
	for _, res := range report.Results {
		r.itemsTotal.WithLabelValues(report.Stage, string(res.Outcome)).Inc()
		if res.Outcome == stage.OutcomeFailed {
			r.failuresTotal.WithLabelValues(report.Stage, string(res.Kind())).Inc()
		}
	}
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(elapsed time.Duration, failed bool, stateRecords int) {
	if r == nil {
		return
	}
	result := "success"
	if failed {
		result = "failure"
	} else {
		r.lastSuccess.SetToCurrentTime()
		r.stateRecords.Set(float64(stateRecords))
	}
	r.runsTotal.WithLabelValues(result).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// DegradedKeys adds n degraded identity keys.
func (r *Recorder) DegradedKeys(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.degradedKeys.Add(float64(n))
}

// HTTPRetry matches the httpclient retry hook signature.
func (r *Recorder) HTTPRetry(string, int, error) {
	if r == nil {
		return
	}
	r.httpRetries.Inc()
}

// SourceRecords records the size of the latest listing.
func (r *Recorder) SourceRecords(n int) {
	if r == nil {
		return
	}
	r.sourceRecords.Set(float64(n))
}

// JournalRecovered counts a run that had to reconcile the merge journal.
func (r *Recorder) JournalRecovered() {
	if r == nil {
		return
	}
	r.journalRecovery.Inc()
}
