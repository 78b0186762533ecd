package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/internal/responses"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
	"github.com/capitalize-ai/voice-survey/pkg/metrics"
)

// Recorder turns an answer set into a response record and appends it.
type Recorder struct {
	store responses.Store
	now   func() time.Time
	log   *logger.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store responses.Store, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Recorder{store: store, now: time.Now, log: log}
}

// Record appends one voice response for the call.
func (r *Recorder) Record(ctx context.Context, surveyID, callID string, answers model.AnswerSet) (*model.SurveyResponseRecord, error) {
	rec := &model.SurveyResponseRecord{
		ID:          uuid.NewString(),
		SurveyID:    surveyID,
		SubmittedAt: r.now().UTC(),
		Modality:    model.ModalityVoice,
		CallID:      callID,
		Answers:     answers.Clone(),
	}

	if err := r.store.Append(ctx, rec); err != nil {
		metrics.RecordSurveyResponse("error")
		return nil, fmt.Errorf("append response for survey %s: %w", surveyID, err)
	}

	metrics.RecordSurveyResponse("ok")
	r.log.Info("survey response recorded",
		zap.String("survey_id", surveyID),
		zap.String("call_id", callID),
		zap.String("response_id", rec.ID),
		zap.Int("answers", len(answers)),
	)
	return rec, nil
}

// List returns a survey's recorded responses.
func (r *Recorder) List(ctx context.Context, surveyID string) ([]model.SurveyResponseRecord, error) {
	return r.store.List(ctx, surveyID)
}
