// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CallEventsTotal tracks webhook invocations by event kind and outcome action.
	CallEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_events_total",
			Help: "Total call webhook events handled",
		},
		[]string{"event", "outcome"},
	)

	// CallFailuresTotal tracks calls ended on the apology path.
	CallFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_failures_total",
			Help: "Total calls ended because of a failure",
		},
		[]string{"kind"},
	)

	// TurnGenerationDuration tracks the single LLM call made per turn.
	TurnGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_generation_duration_seconds",
			Help:    "LLM turn generation duration",
			Buckets: []float64{.25, .5, 1, 2, 3, 5, 8, 12, 20},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SpeechSynthesisTotal tracks which speech path produced audio.
	SpeechSynthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speech_synthesis_total",
			Help: "Utterances rendered, by primary or fallback path",
		},
		[]string{"path"},
	)

	// SurveyResponsesTotal tracks response record appends.
	SurveyResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_responses_total",
			Help: "Survey response appends by status",
		},
		[]string{"status"},
	)

	// ConversationsReapedTotal tracks orphaned conversation states removed by the reaper.
	ConversationsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_reaped_total",
			Help: "Orphaned conversation states deleted by the reaper",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCallEvent records the outcome of one webhook invocation.
func RecordCallEvent(event, outcome string) {
	CallEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordCallFailure records a call that ended on the apology path.
func RecordCallFailure(kind string) {
	CallFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordTurnGeneration records metrics for one LLM turn.
func RecordTurnGeneration(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	TurnGenerationDuration.WithLabelValues(provider, status).Observe(duration)
	if tokensIn > 0 {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordSpeech records which speech path rendered an utterance.
func RecordSpeech(path string) {
	SpeechSynthesisTotal.WithLabelValues(path).Inc()
}

// RecordSurveyResponse records a response append attempt.
func RecordSurveyResponse(status string) {
	SurveyResponsesTotal.WithLabelValues(status).Inc()
}

// RecordReaped adds n reaped conversation states.
func RecordReaped(n int) {
	ConversationsReapedTotal.Add(float64(n))
}
