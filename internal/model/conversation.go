package model

import (
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance in a call transcript.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// ConversationState is the durable record of an in-progress call. It is
// rebuilt from storage on every webhook invocation.
type ConversationState struct {
	CallID   string            `json:"call_id"`
	SurveyID string            `json:"survey_id"`
	Survey   *SurveyDefinition `json:"survey"`

	// History is append-only; its order is the transcript replayed to the
	// turn generator.
	History []Turn `json:"history"`

	// SilentTurns counts consecutive turns where the caller said nothing.
	SilentTurns int `json:"silent_turns,omitempty"`

	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState creates state for a new call with a snapshot of the survey.
func NewConversationState(callID string, survey *SurveyDefinition, now time.Time) *ConversationState {
	return &ConversationState{
		CallID:    callID,
		SurveyID:  survey.ID,
		Survey:    survey.Clone(),
		History:   []Turn{},
		StartTime: now,
		UpdatedAt: now,
	}
}

// AppendCaller records a caller utterance.
func (c *ConversationState) AppendCaller(text string, now time.Time) {
	c.History = append(c.History, Turn{Speaker: SpeakerCaller, Text: text, At: now})
	c.SilentTurns = 0
	c.UpdatedAt = now
}

// AppendAssistant records an assistant utterance.
func (c *ConversationState) AppendAssistant(text string, now time.Time) {
	c.History = append(c.History, Turn{Speaker: SpeakerAssistant, Text: text, At: now})
	c.UpdatedAt = now
}

// MarkSilent records a turn where the caller produced no speech.
func (c *ConversationState) MarkSilent(now time.Time) {
	c.SilentTurns++
	c.UpdatedAt = now
}

// Age returns how long the call has been running at now.
func (c *ConversationState) Age(now time.Time) time.Duration {
	return now.Sub(c.StartTime)
}

// Clone returns a deep copy so stores never share history slices with callers.
func (c *ConversationState) Clone() *ConversationState {
	if c == nil {
		return nil
	}
	out := *c
	out.Survey = c.Survey.Clone()
	out.History = append([]Turn(nil), c.History...)
	if out.History == nil {
		out.History = []Turn{}
	}
	return &out
}
