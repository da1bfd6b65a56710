package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal   *prometheus.CounterVec
	TriageDuration *prometheus.HistogramVec
	DecisionsTotal *prometheus.CounterVec
	Confidence     *prometheus.HistogramVec
	StepDuration   *prometheus.HistogramVec
	StepFailures   *prometheus.CounterVec
	LLMCallsTotal  *prometheus.CounterVec
	LLMTokensIn    prometheus.Counter
	LLMTokensOut   prometheus.Counter
	LLMDuration    prometheus.Histogram
	IngestedTotal  *prometheus.CounterVec
	BreakerState   prometheus.Gauge
}

// breakerStates maps circuit breaker state names to gauge values.
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_triages_total",
			Help: "Total triage runs by terminal state.",
		}, []string{"state"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sieve_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"state"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_decisions_total",
			Help: "Routed decisions by label and action.",
		}, []string{"label", "action"}),
		Confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sieve_decision_confidence",
			Help:    "Model confidence of routed decisions.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}, []string{"label"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sieve_step_duration_seconds",
			Help:    "Duration of store and notify steps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"step"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_step_failures_total",
			Help: "Failed store and notify steps.",
		}, []string{"step"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_llm_calls_total",
			Help: "Total LLM provider calls by outcome.",
		}, []string{"outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sieve_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sieve_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sieve_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}),
		IngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_alerts_ingested_total",
			Help: "Alerts received by ingestion path.",
		}, []string{"path"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sieve_llm_breaker_state",
			Help: "LLM circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.DecisionsTotal,
		m.Confidence,
		m.StepDuration,
		m.StepFailures,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.IngestedTotal,
		m.BreakerState,
	)

	return m
}

// EngineHooks returns EngineHooks that record LLM call metrics.
func (m *Metrics) EngineHooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(inputTokens, outputTokens int, duration float64, failed bool) {
			outcome := "ok"
			if failed {
				outcome = "error"
			}
			m.LLMCallsTotal.WithLabelValues(outcome).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
	}
}

// SetBreakerState records a breaker transition. Unknown state names are ignored.
func (m *Metrics) SetBreakerState(state string) {
	if v, ok := breakerStates[state]; ok {
		m.BreakerState.Set(v)
	}
}

// HandlerHooks returns HandlerHooks that record per-alert metrics.
func (m *Metrics) HandlerHooks() HandlerHooks {
	return HandlerHooks{
		OnDecision: func(label Label, action Action, confidence float64) {
			m.DecisionsTotal.WithLabelValues(string(label), string(action)).Inc()
			m.Confidence.WithLabelValues(string(label)).Observe(confidence)
		},
		OnStep: func(step string, duration float64, failed bool) {
			m.StepDuration.WithLabelValues(step).Observe(duration)
			if failed {
				m.StepFailures.WithLabelValues(step).Inc()
			}
		},
		OnComplete: func(state State, duration float64) {
			m.TriagesTotal.WithLabelValues(string(state)).Inc()
			m.TriageDuration.WithLabelValues(string(state)).Observe(duration)
		},
	}
}
