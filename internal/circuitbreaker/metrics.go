package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_circuit_breaker_state",
			Help: "Breaker position (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_circuit_breaker_requests_total",
			Help: "Calls attempted through a breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_circuit_breaker_failures_total",
			Help: "Failed calls observed by a breaker",
		},
		[]string{"name", "service"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_circuit_breaker_open_since_seconds",
			Help: "When the breaker opened, unix seconds (0 while not open)",
		},
		[]string{"name", "service"},
	)
)

type breakerKey struct {
	name    string
	service string
}

// MetricsCollector exports breaker state to prometheus. Transitions are
// pushed through the breaker's state-change hook; positions are also
// polled so a silent breaker still reports.
type MetricsCollector struct {
	mutex    sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
}

// NewMetricsCollector builds an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[breakerKey]*CircuitBreaker)}
}

// RegisterCircuitBreaker starts exporting a breaker and chains its
// state-change hook with the metric updates.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.breakers[breakerKey{name: name, service: service}] = cb

	chained := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if chained != nil {
			chained(cbName, from, to)
		}
		breakerTransitions.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	}
}

// RecordRequest counts one guarded call outcome.
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
		breakerFailures.WithLabelValues(name, service).Inc()
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// UpdateMetrics republishes every registered breaker's position.
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	for key, cb := range mc.breakers {
		breakerState.WithLabelValues(key.name, key.service).Set(float64(cb.State()))
	}
}

// GlobalMetricsCollector is shared by all wrappers in the process.
var GlobalMetricsCollector = NewMetricsCollector()

// StartMetricsCollection polls breaker positions every 10 seconds.
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			GlobalMetricsCollector.UpdateMetrics()
		}
	}()
}
