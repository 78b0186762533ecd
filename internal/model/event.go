package model

import (
	"time"
)

// CallEventKind distinguishes the two webhook shapes the carrier delivers.
type CallEventKind string

const (
	// EventNewCall starts a call; no conversation state exists yet.
	EventNewCall CallEventKind = "new_call"
	// EventTurn continues a call after the caller spoke (or stayed silent).
	EventTurn CallEventKind = "turn"
)

// CallEvent is one webhook invocation resolved into an explicit event.
type CallEvent struct {
	Kind       CallEventKind `json:"kind"`
	SurveyID   string        `json:"survey_id"`
	CallID     string        `json:"call_id"`
	Utterance  string        `json:"utterance,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	From       string        `json:"from,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Phase is the state machine position of a call within one invocation.
type Phase string

const (
	PhaseNew          Phase = "NEW"
	PhaseAwaitingTurn Phase = "AWAITING_TURN"
	PhaseContinuing   Phase = "CONTINUING"
	PhaseCompleting   Phase = "COMPLETING"
	PhaseTerminated   Phase = "TERMINATED"
)
