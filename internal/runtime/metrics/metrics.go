// Package metrics exposes Prometheus collectors for the bus and the dispatch
// router, plus an in-process snapshot served by the API capability.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/sparked/internal/runtime/subject"
)

// Request outcomes recorded by RecordRequest.
const (
	OutcomeReplied   = "replied"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Dispatch outcomes recorded by RecordDispatch.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu sync.Mutex

	totals Snapshot

	published        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	requests         *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// Snapshot is a point-in-time view of the running totals.
type Snapshot struct {
	Published        uint64            `json:"published"`
	Deliveries       uint64            `json:"deliveries"`
	CallbackFailures uint64            `json:"callback_failures"`
	Requests         map[string]uint64 `json:"requests"`
	Dispatches       map[string]uint64 `json:"dispatches"`
	CollectedAt      time.Time         `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sparked",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics builds the collectors. A nil registerer means the Prometheus
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:       registerer,
		totals:           Snapshot{Requests: map[string]uint64{}, Dispatches: map[string]uint64{}},
		published:        newCounterVec("bus", "published_total", "Messages published on the bus", []string{"subject_root"}),
		deliveries:       newCounterVec("bus", "deliveries_total", "Callback invocations performed by publishes", []string{"subject_root"}),
		callbackFailures: newCounterVec("bus", "callback_failures_total", "Callbacks that returned an error or panicked", []string{"subject_root"}),
		requests:         newCounterVec("bus", "requests_total", "Completed requests by outcome", []string{"outcome"}),
		dispatches:       newCounterVec("dispatch", "total", "Routed CRUD and controller actions", []string{"model", "action", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sparked",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent executing a routed action",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "action"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.published,
		m.deliveries,
		m.callbackFailures,
		m.requests,
		m.dispatches,
		m.dispatchDuration,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordPublish counts one publish and the number of callbacks it reached.
func (m *Metrics) RecordPublish(subj string, deliveries int) {
	if m == nil {
		return
	}
	root := subjectRoot(subj)

	m.mu.Lock()
	m.totals.Published++
	m.totals.Deliveries += uint64(deliveries)
	m.mu.Unlock()

	m.published.WithLabelValues(root).Inc()
	m.deliveries.WithLabelValues(root).Add(float64(deliveries))
}

// RecordCallbackFailure counts a failed delivery.
func (m *Metrics) RecordCallbackFailure(subj string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.totals.CallbackFailures++
	m.mu.Unlock()

	m.callbackFailures.WithLabelValues(subjectRoot(subj)).Inc()
}

// RecordRequest counts a finished request.
func (m *Metrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.totals.Requests[outcome]++
	m.mu.Unlock()

	m.requests.WithLabelValues(outcome).Inc()
}

// RecordDispatch counts one routed action and observes its duration.
func (m *Metrics) RecordDispatch(model, action, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.totals.Dispatches[outcome]++
	m.mu.Unlock()

	m.dispatches.WithLabelValues(model, action, outcome).Inc()
	m.dispatchDuration.WithLabelValues(model, action).Observe(took.Seconds())
}

// Snapshot copies the running totals.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{CollectedAt: time.Now()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.totals
	out.Requests = make(map[string]uint64, len(m.totals.Requests))
	for k, v := range m.totals.Requests {
		out.Requests[k] = v
	}
	out.Dispatches = make(map[string]uint64, len(m.totals.Dispatches))
	for k, v := range m.totals.Dispatches {
		out.Dispatches[k] = v
	}
	out.CollectedAt = time.Now()
	return out
}

// Reply inboxes would explode label cardinality, so only the first token is
// used as a label.
func subjectRoot(subj string) string {
	tokens := subject.Tokens(subj)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}
