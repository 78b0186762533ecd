// Package handler provides HTTP handlers for the carrier webhooks and the
// operator API.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/middleware"
	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/internal/service"
	"github.com/capitalize-ai/voice-survey/internal/speech"
	"github.com/capitalize-ai/voice-survey/internal/twiml"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

// fallbackTwiML is written if a rendered response cannot be encoded.
const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<Response><Hangup></Hangup></Response>`

// CallFlow is the call state machine the webhooks drive.
type CallFlow interface {
	Handle(ctx context.Context, ev model.CallEvent) service.Outcome
	HandleStatus(ctx context.Context, callID, status string) (bool, error)
	Overloaded(ctx context.Context, ev model.CallEvent) service.Outcome
}

// VoiceHandler handles carrier webhooks.
type VoiceHandler struct {
	calls    CallFlow
	turnURL  func(surveyID string) string
	language string
	logger   *logger.Logger
	now      func() time.Time
}

// NewVoiceHandler creates a voice webhook handler. turnURL builds the URL the
// carrier posts the caller's next utterance to.
func NewVoiceHandler(calls CallFlow, turnURL func(surveyID string) string, language string, log *logger.Logger) *VoiceHandler {
	if language == "" {
		language = speech.DefaultLanguage
	}
	return &VoiceHandler{
		calls:    calls,
		turnURL:  turnURL,
		language: language,
		logger:   log,
		now:      time.Now,
	}
}

// NewCall handles POST /voice/calls?surveyId=
func (h *VoiceHandler) NewCall(w http.ResponseWriter, r *http.Request) {
	ev := h.event(r, model.EventNewCall)
	ev.From = r.PostFormValue("From")
	h.respond(w, h.calls.Handle(r.Context(), ev))
}

// Turn handles POST /voice/calls/turn?surveyId=
func (h *VoiceHandler) Turn(w http.ResponseWriter, r *http.Request) {
	ev := h.event(r, model.EventTurn)

	text := r.PostFormValue("SpeechResult")
	if err := middleware.ValidateUtterance(text); err != nil {
		h.logger.Warn("sanitizing caller utterance", zap.String("call_id", ev.CallID), zap.Error(err))
		text = sanitizeUtterance(text)
	}
	ev.Utterance = text

	if c := r.PostFormValue("Confidence"); c != "" {
		if f, err := strconv.ParseFloat(c, 64); err == nil {
			ev.Confidence = f
		}
	}

	h.respond(w, h.calls.Handle(r.Context(), ev))
}

// Status handles POST /voice/calls/status
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	callID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")

	if _, err := h.calls.HandleStatus(r.Context(), callID, status); err != nil {
		h.logger.Error("failed to handle call status",
			zap.String("call_id", callID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
	writeTwiML(w, twiml.New(), h.logger)
}

// Overloaded answers a webhook the rate limiter shed. The carrier still gets
// a TwiML apology and hangup rather than an HTTP error.
func (h *VoiceHandler) Overloaded(w http.ResponseWriter, r *http.Request) {
	kind := model.EventNewCall
	if strings.HasSuffix(r.URL.Path, "/turn") {
		kind = model.EventTurn
	}
	ev := h.event(r, kind)
	h.logger.Warn("webhook rate limit exceeded", zap.String("call_id", ev.CallID), zap.String("path", r.URL.Path))
	h.respond(w, h.calls.Overloaded(r.Context(), ev))
}

// event reads the identifiers common to both call webhooks. Malformed ids are
// blanked so the state machine ends the call on its input-failure path.
func (h *VoiceHandler) event(r *http.Request, kind model.CallEventKind) model.CallEvent {
	surveyID := r.URL.Query().Get("surveyId")
	if surveyID != "" {
		if err := middleware.ValidateSurveyID(surveyID); err != nil {
			h.logger.Warn("rejecting survey id", zap.String("survey_id", surveyID), zap.Error(err))
			surveyID = ""
		}
	}

	callID := r.URL.Query().Get("callId")
	if callID == "" {
		callID = r.PostFormValue("CallSid")
	}
	if callID != "" {
		if err := middleware.ValidateCallID(callID); err != nil {
			h.logger.Warn("rejecting call id", zap.String("call_id", callID), zap.Error(err))
			callID = ""
		}
	}

	return model.CallEvent{
		Kind:       kind,
		SurveyID:   surveyID,
		CallID:     callID,
		ReceivedAt: h.now(),
	}
}

func (h *VoiceHandler) respond(w http.ResponseWriter, out service.Outcome) {
	writeTwiML(w, Render(out, h.turnURL, h.language), h.logger)
}

// Render converts an outcome into the carrier document. A gather is followed
// by a redirect to the turn URL so a silent caller still produces a turn.
func Render(out service.Outcome, turnURL func(string) string, language string) *twiml.Response {
	verb := speechVerb(out.Speech)

	if out.Action == service.ActionGather {
		action := turnURL(out.SurveyID)
		return twiml.New(
			twiml.SpeechGather(action, language, verb),
			&twiml.Redirect{Method: http.MethodPost, URL: action},
		)
	}
	return twiml.New(verb, &twiml.Hangup{})
}

func speechVerb(s speech.Speech) any {
	if s.IsAudio() {
		return &twiml.Play{URL: s.AudioURL}
	}
	return &twiml.Say{Voice: s.Voice, Language: s.Language, Text: s.Text}
}

func writeTwiML(w http.ResponseWriter, doc *twiml.Response, log *logger.Logger) {
	body, err := doc.Render()
	if err != nil {
		log.Error("failed to render twiml", zap.Error(err))
		body = []byte(fallbackTwiML)
	}
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func sanitizeUtterance(text string) string {
	text = strings.ToValidUTF8(text, "")
	if len(text) <= middleware.MaxUtteranceLength {
		return text
	}
	text = text[:middleware.MaxUtteranceLength]
	for !utf8.ValidString(text) {
		text = text[:len(text)-1]
	}
	return text
}
