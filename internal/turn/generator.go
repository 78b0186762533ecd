// Package turn produces the assistant's next utterance for a call.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/llm"
	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
	"github.com/capitalize-ai/voice-survey/pkg/metrics"
	"github.com/capitalize-ai/voice-survey/pkg/tracing"
)

// ErrEmptyOutput is returned when the model produced no usable text.
var ErrEmptyOutput = errors.New("turn generator returned empty output")

// Cues sent in place of a caller turn. They are never stored in history.
const (
	CueCallConnected = "[The call has just connected. Greet the caller and ask the first question.]"
	CueCallerSilent  = "[The caller did not say anything. Gently prompt them again.]"
)

const (
	defaultMaxTokens = 512
	defaultTimeout   = 15 * time.Second
)

// Config configures a Generator.
type Config struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Generator wraps exactly one LLM call per invocation.
type Generator struct {
	client llm.Client
	cfg    Config
	log    *logger.Logger
}

// NewGenerator creates a new turn generator.
func NewGenerator(client llm.Client, cfg Config, log *logger.Logger) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Generator{client: client, cfg: cfg, log: log}
}

// Next returns the model's raw text for the next turn. The output is not
// interpreted; it may be a spoken line or the terminal JSON object.
func (g *Generator) Next(ctx context.Context, survey *model.SurveyDefinition, history []model.Turn) (string, error) {
	ctx, span := tracing.Start(ctx, "turn.Next")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.client.Name()),
		attribute.Int("history.length", len(history)),
	)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := &llm.CompletionRequest{
		Model:     g.cfg.Model,
		System:    BuildInstructions(survey),
		Messages:  BuildMessages(history),
		MaxTokens: g.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordTurnGeneration(g.client.Name(), g.cfg.Model, "error", elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("llm completion: %w", err)
	}

	metrics.RecordTurnGeneration(g.client.Name(), resp.Model, "ok", elapsed, resp.TokensIn, resp.TokensOut)
	g.log.Debug("turn generated",
		zap.String("provider", g.client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.String("stop_reason", resp.StopReason),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		span.SetStatus(codes.Error, "empty output")
		return "", ErrEmptyOutput
	}
	return text, nil
}

// BuildInstructions renders the system preamble for a survey. Only the topic
// and question texts are included.
func BuildInstructions(survey *model.SurveyDefinition) string {
	var b strings.Builder
	b.WriteString("You are a friendly conversational survey agent speaking with a caller on the phone.\n")
	fmt.Fprintf(&b, "The survey topic is: %s.\n\n", survey.Topic())
	b.WriteString("Questions, in order:\n")
	for i, q := range survey.QuestionTexts() {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\nAsk one question at a time and wait for the answer. ")
	b.WriteString("Keep each reply short and natural, since it will be read aloud. ")
	b.WriteString("If the caller goes off topic or gives an unclear answer, gently redirect them to the current question.\n\n")
	b.WriteString("When every question has a clear answer, your final message must be only a raw JSON object, with no other text, in this exact shape:\n")
	b.WriteString(`{"status": "complete", "answers": {"<index>": "<answer>", ...}}`)
	b.WriteString("\nwhere <index> is the 0-based question number.")
	return b.String()
}

// BuildMessages maps history onto LLM messages. The result alternates roles
// and always opens and closes with a user message, adding cues where the
// transcript does not.
func BuildMessages(history []model.Turn) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	if len(history) == 0 || history[0].Speaker == model.SpeakerAssistant {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: CueCallConnected})
	}
	if len(history) == 0 {
		return msgs
	}
	for i, t := range history {
		role := llm.RoleUser
		if t.Speaker == model.SpeakerAssistant {
			role = llm.RoleAssistant
			// Back-to-back assistant turns mean the caller stayed silent between them.
			if i > 0 && history[i-1].Speaker == model.SpeakerAssistant {
				msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: CueCallerSilent})
			}
		}
		msgs = append(msgs, llm.ChatMessage{Role: role, Content: t.Text})
	}
	if history[len(history)-1].Speaker == model.SpeakerAssistant {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: CueCallerSilent})
	}
	return msgs
}
