// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

const namespace = "custody"

// Metrics holds the registered collectors.
type Metrics struct {
	registry        *prometheus.Registry
	commands        *prometheus.HistogramVec
	approvalActions *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	relocations     prometheus.Counter
	skippedLines    prometheus.Counter
	lockConflicts   *prometheus.CounterVec
}

// New registers the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commands: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of custody commands by command and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command", "outcome"}),
		approvalActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_actions_total",
			Help:      "Approval actions applied, by request kind and action.",
		}, []string{"kind", "action"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Transfer reconciliations, by resulting header status.",
		}, []string{"status"}),
		relocations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_relocations_total",
			Help:      "Asset location updates written by the reconciler.",
		}),
		skippedLines: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_skipped_lines_total",
			Help:      "Lines whose asset was missing during reconciliation.",
		}),
		lockConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_conflicts_total",
			Help:      "Commands rejected because the aggregate was locked.",
		}, []string{"resource"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCommand records one command. The outcome label is "ok" or the
// lower-cased error code.
func (m *Metrics) ObserveCommand(command string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, Outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) ApprovalAction(kind, action string) {
	if m == nil {
		return
	}
	m.approvalActions.WithLabelValues(kind, action).Inc()
}

// Reconciled records one reconciliation run.
func (m *Metrics) Reconciled(status string, relocations, skipped int) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
	m.relocations.Add(float64(relocations))
	m.skippedLines.Add(float64(skipped))
}

func (m *Metrics) LockConflict(resource string) {
	if m == nil {
		return
	}
	m.lockConflicts.WithLabelValues(resource).Inc()
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return "not_found"
	case errors.ErrCodeInvalidInput:
		return "invalid_input"
	case errors.ErrCodeConflict:
		return "conflict"
	case errors.ErrCodeUnauthorized:
		return "unauthorized"
	case errors.ErrCodeForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}
