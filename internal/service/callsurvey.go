// Package service provides the call survey state machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/completion"
	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/internal/speech"
	"github.com/capitalize-ai/voice-survey/internal/store"
	"github.com/capitalize-ai/voice-survey/internal/survey"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
	"github.com/capitalize-ai/voice-survey/pkg/metrics"
	"github.com/capitalize-ai/voice-survey/pkg/tracing"
)

var (
	// ErrMissingSurveyID is returned when a webhook carries no survey id.
	ErrMissingSurveyID = errors.New("survey id is required")

	// ErrMissingCallID is returned when a webhook carries no call id.
	ErrMissingCallID = errors.New("call id is required")

	// ErrUnknownEvent is returned for an event kind the state machine does not handle.
	ErrUnknownEvent = errors.New("unknown call event")

	// ErrOverloaded is returned when a call is shed before reaching the state machine.
	ErrOverloaded = errors.New("call rejected by rate limit")
)

// Action is the instruction returned to the carrier.
type Action string

const (
	// ActionGather speaks, then listens for the caller; silence redirects back.
	ActionGather Action = "gather"
	// ActionHangup speaks, then ends the call.
	ActionHangup Action = "hangup"
)

// FailureKind classifies why a call ended on the apology path.
type FailureKind string

const (
	FailureInput     FailureKind = "input"
	FailureLookup    FailureKind = "lookup"
	FailureGenerator FailureKind = "generator"
	FailureStorage   FailureKind = "storage"
	FailureInternal  FailureKind = "internal"
	FailureOverload  FailureKind = "overload"
)

// Outcome is what the carrier should do after one webhook invocation.
type Outcome struct {
	Action   Action
	Speech   speech.Speech
	Phase    model.Phase
	// Trail lists every phase the invocation passed through, ending with Phase.
	Trail    []model.Phase
	CallID   string
	SurveyID string

	// Failure is set when the call ended on the apology path.
	Failure FailureKind

	// Answers is set when the survey completed on this invocation.
	Answers model.AnswerSet
}

// Generator produces the raw text of the next assistant turn.
type Generator interface {
	Next(ctx context.Context, survey *model.SurveyDefinition, history []model.Turn) (string, error)
}

// Speaker renders text for the caller. Neither method may fail.
type Speaker interface {
	Speak(ctx context.Context, text string) speech.Speech
	Fallback(text string) speech.Speech
}

// Recorder appends a completed survey's answers.
type Recorder interface {
	Record(ctx context.Context, surveyID, callID string, answers model.AnswerSet) (*model.SurveyResponseRecord, error)
}

// Config holds the state machine's limits and fixed lines.
type Config struct {
	// MaxTurns ends the call once history reaches this many turns.
	MaxTurns int
	// MaxSilentTurns ends the call when consecutive silent turns exceed it.
	MaxSilentTurns int
	// Deadline bounds one whole invocation, generation and synthesis included.
	Deadline time.Duration

	ClosingLine string
	ApologyLine string
	EndingLine  string
}

// DefaultConfig returns the default limits and lines.
func DefaultConfig() Config {
	return Config{
		MaxTurns:       40,
		MaxSilentTurns: 3,
		Deadline:       12 * time.Second,
		ClosingLine:    "Thank you for taking our survey. Your answers have been recorded. Goodbye!",
		ApologyLine:    "We're sorry, something went wrong and we can't continue the survey right now. Goodbye.",
		EndingLine:     "It seems this isn't a good time. Thank you for your time, and goodbye.",
	}
}

// CallService runs one step of the call survey per webhook invocation. All
// state lives in the conversation store between invocations.
type CallService struct {
	surveys  survey.Repository
	store    store.ConversationStore
	gen      Generator
	speaker  Speaker
	recorder Recorder
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time
}

// NewCallService creates a new call service.
func NewCallService(
	surveys survey.Repository,
	conversations store.ConversationStore,
	gen Generator,
	speaker Speaker,
	recorder Recorder,
	cfg Config,
	log *logger.Logger,
) *CallService {
	defaults := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.MaxSilentTurns <= 0 {
		cfg.MaxSilentTurns = defaults.MaxSilentTurns
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaults.Deadline
	}
	if cfg.ClosingLine == "" {
		cfg.ClosingLine = defaults.ClosingLine
	}
	if cfg.ApologyLine == "" {
		cfg.ApologyLine = defaults.ApologyLine
	}
	if cfg.EndingLine == "" {
		cfg.EndingLine = defaults.EndingLine
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &CallService{
		surveys:  surveys,
		store:    conversations,
		gen:      gen,
		speaker:  speaker,
		recorder: recorder,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// Handle advances the call by one webhook event. It never returns an error
// and never panics; every failure becomes an apology followed by a hangup.
func (s *CallService) Handle(ctx context.Context, ev model.CallEvent) (out Outcome) {
	ctx, span := tracing.Start(ctx, "call.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.event", string(ev.Kind)),
		attribute.String("call.id", ev.CallID),
		attribute.String("survey.id", ev.SurveyID),
	)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	log := s.logger.WithCall(ev.CallID, ev.SurveyID).With(zap.String("event", string(ev.Kind)))

	var trail []model.Phase
	enter := func(p model.Phase) {
		trail = append(trail, p)
		span.AddEvent(string(p))
	}
	if ev.Kind == model.EventNewCall {
		enter(model.PhaseNew)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling call event", zap.Any("panic", r), zap.Stack("stack"))
			out = s.fail(ctx, log, ev, fmt.Errorf("panic: %v", r), FailureInternal)
		}
		if out.Failure != "" {
			span.SetStatus(codes.Error, string(out.Failure))
		}
		enter(out.Phase)
		out.Trail = trail
		span.SetAttributes(
			attribute.String("call.action", string(out.Action)),
			attribute.String("call.phase", string(out.Phase)),
		)
		metrics.RecordCallEvent(string(ev.Kind), string(out.Action))
	}()

	if strings.TrimSpace(ev.SurveyID) == "" {
		return s.fail(ctx, log, ev, ErrMissingSurveyID, FailureInput)
	}
	if strings.TrimSpace(ev.CallID) == "" {
		return s.fail(ctx, log, ev, ErrMissingCallID, FailureInput)
	}

	state, err := s.load(ctx, log, ev)
	if err != nil {
		return s.fail(ctx, log, ev, err, FailureStorage)
	}
	enter(model.PhaseAwaitingTurn)

	if reason := s.ceiling(state); reason != "" {
		return s.end(ctx, log, state, reason)
	}

	raw, err := s.gen.Next(ctx, state.Survey, state.History)
	if err != nil {
		return s.fail(ctx, log, ev, fmt.Errorf("generate turn: %w", err), FailureGenerator)
	}

	if answers, ok := completion.Detect(raw); ok {
		if answers.InRange(len(state.Survey.Questions)) {
			enter(model.PhaseCompleting)
			return s.complete(ctx, log, state, answers)
		}
		log.Warn("terminal payload names questions the survey does not have, continuing",
			zap.Int("questions", len(state.Survey.Questions)),
			zap.Int("answers", len(answers)),
		)
	}
	return s.proceed(ctx, log, ev, state, raw)
}

// Overloaded ends a call that was shed before reaching the state machine,
// with the same apology and cleanup as any other failure.
func (s *CallService) Overloaded(ctx context.Context, ev model.CallEvent) Outcome {
	log := s.logger.WithCall(ev.CallID, ev.SurveyID).With(zap.String("event", string(ev.Kind)))
	out := s.fail(ctx, log, ev, ErrOverloaded, FailureOverload)
	out.Trail = []model.Phase{out.Phase}
	metrics.RecordCallEvent(string(ev.Kind), string(out.Action))
	return out
}

// load resolves the event into the state the generator will see.
func (s *CallService) load(ctx context.Context, log *logger.Logger, ev model.CallEvent) (*model.ConversationState, error) {
	now := ev.ReceivedAt
	if now.IsZero() {
		now = s.now()
	}

	switch ev.Kind {
	case model.EventNewCall:
		def, err := s.surveys.Get(ctx, ev.SurveyID)
		if err != nil {
			return nil, fmt.Errorf("load survey: %w", err)
		}
		if _, err := s.store.Get(ctx, ev.CallID); err == nil {
			log.Info("replacing existing conversation state for new call")
		}
		log.Info("call started", zap.Int("questions", len(def.Questions)), zap.String("from", ev.From))
		return model.NewConversationState(ev.CallID, def, now), nil

	case model.EventTurn:
		state, err := s.store.Get(ctx, ev.CallID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if state.SurveyID != ev.SurveyID {
			log.Warn("turn survey id differs from conversation, keeping conversation survey",
				zap.String("conversation_survey_id", state.SurveyID))
		}
		if text := strings.TrimSpace(ev.Utterance); text != "" {
			state.AppendCaller(text, now)
			log.Debug("caller spoke", zap.Int("chars", len(text)), zap.Float64("confidence", ev.Confidence))
		} else {
			state.MarkSilent(now)
			log.Info("caller was silent", zap.Int("silent_turns", state.SilentTurns))
		}
		return state, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, ev.Kind)
	}
}

func (s *CallService) ceiling(state *model.ConversationState) string {
	if state.SilentTurns > s.cfg.MaxSilentTurns {
		return "silence"
	}
	if len(state.History) >= s.cfg.MaxTurns {
		return "max_turns"
	}
	return ""
}

// proceed stores the assistant's line and asks the carrier to listen again.
func (s *CallService) proceed(ctx context.Context, log *logger.Logger, ev model.CallEvent, state *model.ConversationState, text string) Outcome {
	state.AppendAssistant(text, s.now())
	if err := s.store.Put(ctx, state); err != nil {
		return s.fail(ctx, log, ev, fmt.Errorf("save conversation: %w", err), FailureStorage)
	}

	log.Info("call continuing", zap.Int("turns", len(state.History)))
	return Outcome{
		Action:   ActionGather,
		Speech:   s.speaker.Speak(ctx, text),
		Phase:    model.PhaseContinuing,
		CallID:   state.CallID,
		SurveyID: state.SurveyID,
	}
}

// complete records the answers, drops the conversation and says goodbye.
// The conversation is deleted whether or not the record was stored.
func (s *CallService) complete(ctx context.Context, log *logger.Logger, state *model.ConversationState, answers model.AnswerSet) Outcome {
	persistCtx := context.WithoutCancel(ctx)

	if _, err := s.recorder.Record(persistCtx, state.SurveyID, state.CallID, answers); err != nil {
		log.Error("failed to persist survey response, answers lost",
			zap.Error(err),
			zap.Int("answers", len(answers)),
		)
	}
	s.discard(persistCtx, log, state.CallID)

	log.Info("call completed", zap.Int("turns", len(state.History)), zap.Int("answers", len(answers)))
	return Outcome{
		Action:   ActionHangup,
		Speech:   s.speaker.Speak(ctx, s.cfg.ClosingLine),
		Phase:    model.PhaseTerminated,
		CallID:   state.CallID,
		SurveyID: state.SurveyID,
		Answers:  answers,
	}
}

// end hangs up a call that hit a ceiling without recording a response.
func (s *CallService) end(ctx context.Context, log *logger.Logger, state *model.ConversationState, reason string) Outcome {
	s.discard(context.WithoutCancel(ctx), log, state.CallID)

	log.Info("call ended without completing",
		zap.String("reason", reason),
		zap.Int("turns", len(state.History)),
		zap.Int("silent_turns", state.SilentTurns),
	)
	return Outcome{
		Action:   ActionHangup,
		Speech:   s.speaker.Speak(ctx, s.cfg.EndingLine),
		Phase:    model.PhaseTerminated,
		CallID:   state.CallID,
		SurveyID: state.SurveyID,
	}
}

// fail is the apology path shared by every failure.
func (s *CallService) fail(ctx context.Context, log *logger.Logger, ev model.CallEvent, err error, stage FailureKind) Outcome {
	kind := classify(err, stage)

	fields := []zap.Field{zap.String("failure", string(kind)), zap.Error(err)}
	switch kind {
	case FailureInput, FailureLookup:
		log.Warn("ending call with apology", fields...)
	default:
		log.Error("ending call with apology", fields...)
	}
	metrics.RecordCallFailure(string(kind))

	if strings.TrimSpace(ev.CallID) != "" {
		s.discard(context.WithoutCancel(ctx), log, ev.CallID)
	}

	return Outcome{
		Action:   ActionHangup,
		Speech:   s.speaker.Fallback(s.cfg.ApologyLine),
		Phase:    model.PhaseTerminated,
		CallID:   ev.CallID,
		SurveyID: ev.SurveyID,
		Failure:  kind,
	}
}

// discard deletes conversation state, logging instead of returning failures.
func (s *CallService) discard(ctx context.Context, log *logger.Logger, callID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while deleting conversation state", zap.Any("panic", r))
		}
	}()
	if err := s.store.Delete(ctx, callID); err != nil {
		log.Error("failed to delete conversation state", zap.Error(err))
	}
}

func classify(err error, stage FailureKind) FailureKind {
	switch {
	case errors.Is(err, ErrMissingSurveyID), errors.Is(err, ErrMissingCallID), errors.Is(err, ErrUnknownEvent):
		return FailureInput
	case errors.Is(err, survey.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return FailureLookup
	default:
		return stage
	}
}
