// Package metrics records conversation and NLU metrics with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/TriageChat/internal/models"
)

const namespace = "triage"

// Recorder implements engine.Observer and interpret.CallObserver on a
// private registry.
type Recorder struct {
	registry *prometheus.Registry

	turnsTotal    *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	pathsTotal    *prometheus.CounterVec
	redFlagsTotal *prometheus.CounterVec
	repairsTotal  *prometheus.CounterVec
	endsTotal     *prometheus.CounterVec
	nluCallsTotal *prometheus.CounterVec
	nluDuration   *prometheus.HistogramVec
	deliveryTotal *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns by outcome (ok or the error code).",
			},
			[]string{"outcome"},
		),
		turnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time spent generating a turn.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		pathsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paths_total",
				Help:      "Decision paths reported per turn.",
			},
			[]string{"path"},
		),
		redFlagsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "red_flags_total",
				Help:      "Red flag categories detected in user messages.",
			},
			[]string{"flag"},
		),
		repairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repairs_total",
				Help:      "Repair prompts by question and attempt.",
			},
			[]string{"question", "attempt"},
		),
		endsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversations_ended_total",
				Help:      "Conversations reaching END by end reason.",
			},
			[]string{"reason"},
		),
		nluCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nlu_calls_total",
				Help:      "Remote NLU calls by model strength and outcome.",
			},
			[]string{"strength", "outcome"},
		),
		nluDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "nlu_call_duration_seconds",
				Help:      "Duration of remote NLU calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"strength"},
		),
		deliveryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_deliveries_total",
				Help:      "Outbound message deliveries by status.",
			},
			[]string{"status"},
		),
	}
}

// ObserveTurn records one engine invocation.
func (r *Recorder) ObserveTurn(out models.Output, elapsed time.Duration) {
	outcome := "ok"
	if !out.OK {
		outcome = "error"
		if len(out.Errors) > 0 {
			outcome = string(out.Errors[0].Code)
		}
	}
	r.turnsTotal.WithLabelValues(outcome).Inc()
	r.turnDuration.Observe(elapsed.Seconds())
	if !out.OK {
		return
	}

	if p := out.Report.PathOrEmpty(); p != "" {
		r.pathsTotal.WithLabelValues(string(p)).Inc()
	}
	if tr := out.Report.Trace; tr != nil {
		for _, f := range tr.RedFlagsThisTurn {
			r.redFlagsTotal.WithLabelValues(string(f)).Inc()
		}
		if tr.RepairAttempt > 0 {
			attempt := "1"
			if tr.RepairAttempt >= 2 {
				attempt = "2+"
			}
			r.repairsTotal.WithLabelValues(string(tr.PendingQuestion), attempt).Inc()
		}
	}
	if chat := out.Report.Chat; chat != nil && chat.Done && chat.State.EndReason != "" {
		r.endsTotal.WithLabelValues(string(chat.State.EndReason)).Inc()
	}
}

// ObserveNLUCall records a remote NLU call; its signature matches
// interpret.CallObserver.
func (r *Recorder) ObserveNLUCall(strength models.ModelStrength, outcome string, elapsed time.Duration) {
	r.nluCallsTotal.WithLabelValues(string(strength), outcome).Inc()
	r.nluDuration.WithLabelValues(string(strength)).Observe(elapsed.Seconds())
}

// ObserveReceipt records a delivery receipt from a messaging service.
func (r *Recorder) ObserveReceipt(receipt models.Receipt) {
	r.deliveryTotal.WithLabelValues(string(receipt.Status)).Inc()
}

// ConsumeReceipts records receipts until the channel is closed.
func (r *Recorder) ConsumeReceipts(receipts <-chan models.Receipt) {
	for receipt := range receipts {
		r.ObserveReceipt(receipt)
	}
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the Prometheus exposition of the private registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
