package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phoenix",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phoenix",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "phoenix",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// LendingMetrics wraps collectors tracking loan lifecycle activity.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	opErrors     *prometheus.CounterVec
	principalOut *prometheus.GaugeVec
	reserve      *prometheus.GaugeVec
}

// Lending exposes the metrics registry for the lending engine.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phoenix",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of loan operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phoenix",
				Subsystem: "lending",
				Name:      "errors_total",
				Help:      "Count of loan operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			principalOut: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "phoenix",
				Subsystem: "lending",
				Name:      "principal_outstanding",
				Help:      "Outstanding principal per debt asset in the asset's native units.",
			}, []string{"asset"}),
			reserve: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "phoenix",
				Subsystem: "lending",
				Name:      "reserve_balance",
				Help:      "Vault reserve balance per asset in the asset's native units.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.opErrors,
			lendingRegistry.principalOut,
			lendingRegistry.reserve,
		)
	})
	return lendingRegistry
}

// ObserveOperation records the outcome of a loan operation.
func (m *LendingMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.opErrors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// RecordPrincipalChange moves the outstanding principal gauge for an asset by
// the given delta. Borrows report a positive delta, repayments a negative one,
// so the gauge tracks the aggregate without a ledger scan.
func (m *LendingMetrics) RecordPrincipalChange(asset string, delta *big.Int) {
	if m == nil {
		return
	}
	m.principalOut.WithLabelValues(labelAsset(asset)).Add(bigToFloat(delta))
}

// RecordReserve updates the reserve balance gauge for an asset.
func (m *LendingMetrics) RecordReserve(asset string, balance *big.Int) {
	if m == nil {
		return
	}
	m.reserve.WithLabelValues(labelAsset(asset)).Set(bigToFloat(balance))
}

// OracleMetrics bundles collectors tracking price feed health.
type OracleMetrics struct {
	quotes    *prometheus.CounterVec
	freshness *prometheus.GaugeVec
}

// Oracle returns the metrics registry for price feed instrumentation.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phoenix",
				Subsystem: "pricefeed",
				Name:      "quotes_total",
				Help:      "Count of price quotes served segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "phoenix",
				Subsystem: "pricefeed",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the most recently served quote per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.quotes, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordQuote increments the quote counter for a feed source.
func (m *OracleMetrics) RecordQuote(source string, err error) {
	if m == nil {
		return
	}
	src := strings.ToLower(strings.TrimSpace(source))
	if src == "" {
		src = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.quotes.WithLabelValues(src, outcome).Inc()
}

// RecordFreshness records how old the served quote was.
func (m *OracleMetrics) RecordFreshness(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(labelAsset(asset)).Set(age.Seconds())
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
