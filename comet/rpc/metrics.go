package rpc

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

// Metrics counts executed receipts and the router's chain events. It is a
// sandbox.Observer.
type Metrics struct {
	registry *prometheus.Registry
	router   runtime.AccountID

	receipts    *prometheus.CounterVec
	receiptTime *prometheus.HistogramVec
	aborts      *prometheus.CounterVec
	deposits    *prometheus.CounterVec
	chains      *prometheus.CounterVec
	settlements *prometheus.CounterVec
}

func NewMetrics(routerAccount runtime.AccountID) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		router:   routerAccount,
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comet",
			Name:      "receipts_total",
			Help:      "Executed receipts by receiver method and status.",
		}, []string{"receiver", "method", "status"}),
		receiptTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "comet",
			Name:      "receipt_duration_seconds",
			Help:      "Receipt execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"method"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comet",
			Name:      "aborts_total",
			Help:      "Failed receipts by abort code.",
		}, []string{"receiver", "code"}),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comet",
			Name:      "deposits_total",
			Help:      "Deposits submitted through the API by final status.",
		}, []string{"token", "status"}),
		chains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comet",
			Name:      "chains_dispatched_total",
			Help:      "Swap chains dispatched by the router.",
		}, []string{"dex"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comet",
			Name:      "settlements_total",
			Help:      "Router settlement events by event and outcome.",
		}, []string{"event", "outcome"}),
	}
	// go and process collectors already live on the default registry
	m.registry.MustRegister(
		m.receipts, m.receiptTime, m.aborts, m.deposits, m.chains, m.settlements,
	)
	return m
}

// Gatherer serves these metrics together with the default registry, where
// the OpenTelemetry Prometheus exporter registers.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}
}

func (m *Metrics) ReceiptExecuted(_ context.Context, _ string, o *sandbox.ReceiptOutcome) {
	m.receipts.WithLabelValues(o.Receiver.String(), o.Method, string(o.Status)).Inc()
	m.receiptTime.WithLabelValues(o.Method).Observe(o.Duration.Seconds())
	if o.Status == sandbox.StatusFailure {
		code := o.AbortCode
		if code == "" {
			code = "error"
		}
		m.aborts.WithLabelValues(o.Receiver.String(), code).Inc()
	}
	if o.Receiver != m.router {
		return
	}
	for _, line := range o.Logs {
		ev, ok := router.ParseEvent(line)
		if !ok {
			continue
		}
		switch ev.Event {
		case router.EventSwapDispatched:
			var data router.SwapDispatchedData
			if ev.DecodeData(&data) == nil {
				m.chains.WithLabelValues(data.Dex.String()).Inc()
			}
		default:
			var data router.SettlementData
			if ev.DecodeData(&data) == nil {
				m.settlements.WithLabelValues(ev.Event, string(data.Outcome)).Inc()
			}
		}
	}
}

func (m *Metrics) observeDeposit(token runtime.AccountID, status sandbox.ExecutionStatus) {
	m.deposits.WithLabelValues(token.String(), string(status)).Inc()
}
