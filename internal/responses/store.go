// Package responses persists completed survey answers.
package responses

import (
	"context"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// Store is an append-only log of response records per survey.
type Store interface {
	// Append adds one record. Existing records are never modified.
	Append(ctx context.Context, rec *model.SurveyResponseRecord) error

	// List returns all records for a survey in append order. An unknown
	// survey yields an empty slice.
	List(ctx context.Context, surveyID string) ([]model.SurveyResponseRecord, error)
}
