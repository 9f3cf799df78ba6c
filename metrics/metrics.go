package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guildcourt"

// Recorder owns the service's collectors. A nil *Recorder records nothing,
// so components can be built without metrics in tests.
type Recorder struct {
	registry        *prometheus.Registry
	disputesCreated *prometheus.CounterVec
	votesCast       *prometheus.CounterVec
	disputesClosed  *prometheus.CounterVec
	payoutAmount    *prometheus.CounterVec
	executions      *prometheus.CounterVec
	outboxPublished *prometheus.CounterVec
	outboxFailed    *prometheus.CounterVec
	sweepResolved   prometheus.Counter
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		disputesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_created_total",
			Help:      "Disputes opened, by reference type.",
		}, []string{"reference_type"}),
		votesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Votes accepted, by decision.",
		}, []string{"decision"}),
		disputesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_closed_total",
			Help:      "Disputes closed, by final status.",
		}, []string{"status"}),
		payoutAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_amount_total",
			Help:      "Token base units moved by dispute settlement, by reference type.",
		}, []string{"reference_type"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_executed_total",
			Help:      "Resolutions executed, by winning decision.",
		}, []string{"decision"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox messages delivered, by topic.",
		}, []string{"topic"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Outbox delivery failures, by topic and whether the message was dead lettered.",
		}, []string{"topic", "dead"}),
		sweepResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "resolved_total",
			Help:      "Disputes closed by the resolution sweeper.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.disputesCreated,
		r.votesCast,
		r.disputesClosed,
		r.payoutAmount,
		r.executions,
		r.outboxPublished,
		r.outboxFailed,
		r.sweepResolved,
	)
	return r
}

// Registry exposes the underlying registry for tests and custom handlers.
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
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Recorder) DisputeCreated(referenceType string) {
	if r == nil {
		return
	}
	r.disputesCreated.WithLabelValues(referenceType).Inc()
}

func (r *Recorder) VoteCast(decision string) {
	if r == nil {
		return
	}
	r.votesCast.WithLabelValues(decision).Inc()
}

func (r *Recorder) DisputeClosed(status string) {
	if r == nil {
		return
	}
	r.disputesClosed.WithLabelValues(status).Inc()
}

func (r *Recorder) ResolutionExecuted(decision string) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues(decision).Inc()
}

func (r *Recorder) Payout(referenceType string, amount int64) {
	if r == nil || amount <= 0 {
		return
	}
	r.payoutAmount.WithLabelValues(referenceType).Add(float64(amount))
}

func (r *Recorder) OutboxPublished(topic string) {
	if r == nil {
		return
	}
	r.outboxPublished.WithLabelValues(topic).Inc()
}

func (r *Recorder) OutboxFailed(topic string, dead bool) {
	if r == nil {
		return
	}
	label := "false"
	if dead {
		label = "true"
	}
	r.outboxFailed.WithLabelValues(topic, label).Inc()
}

func (r *Recorder) SweepResolved() {
	if r == nil {
		return
	}
	r.sweepResolved.Inc()
}
