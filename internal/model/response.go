package model

import (
	"strconv"
	"time"
)

// ModalityVoice tags responses collected over a phone call.
const ModalityVoice = "voice"

// AnswerSet maps a stringified 0-based question index to the caller's answer.
type AnswerSet map[string]string

// InRange reports whether every key is a question index below n.
func (a AnswerSet) InRange(n int) bool {
	for k := range a {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= n {
			return false
		}
	}
	return true
}

// Clone returns a copy of the answer set.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SurveyResponseRecord is one entry in a survey's append-only response log.
type SurveyResponseRecord struct {
	ID          string    `json:"id"`
	SurveyID    string    `json:"survey_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Modality    string    `json:"modality"`
	CallID      string    `json:"call_id"`
	Answers     AnswerSet `json:"answers"`
}

// ListResponsesResponse is the operator API payload for a survey's responses.
type ListResponsesResponse struct {
	SurveyID  string                 `json:"survey_id"`
	Responses []SurveyResponseRecord `json:"responses"`
	Total     int                    `json:"total"`
}

// ListCallsResponse is the operator API payload for active calls.
type ListCallsResponse struct {
	Calls []CallSummary `json:"calls"`
	Total int           `json:"total"`
}

// CallSummary describes an active call without its transcript.
type CallSummary struct {
	CallID    string    `json:"call_id"`
	SurveyID  string    `json:"survey_id"`
	Turns     int       `json:"turns"`
	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`
}
