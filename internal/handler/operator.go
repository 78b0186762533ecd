package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/middleware"
	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/internal/store"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

// CallAdmin exposes in-progress calls to operators.
type CallAdmin interface {
	ActiveCalls(ctx context.Context) (*model.ListCallsResponse, error)
	DropCall(ctx context.Context, callID string) error
}

// ResponseLister reads a survey's recorded responses.
type ResponseLister interface {
	List(ctx context.Context, surveyID string) ([]model.SurveyResponseRecord, error)
}

// OperatorHandler handles the operator API.
type OperatorHandler struct {
	calls     CallAdmin
	responses ResponseLister
	logger    *logger.Logger
}

// NewOperatorHandler creates a new operator handler.
func NewOperatorHandler(calls CallAdmin, responses ResponseLister, log *logger.Logger) *OperatorHandler {
	return &OperatorHandler{
		calls:     calls,
		responses: responses,
		logger:    log,
	}
}

// ListResponses handles GET /api/v1/surveys/{surveyID}/responses
func (h *OperatorHandler) ListResponses(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyID")
	if err := middleware.ValidateSurveyID(surveyID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.responses.List(r.Context(), surveyID)
	if err != nil {
		h.logger.Error("failed to list survey responses", zap.String("survey_id", surveyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	if records == nil {
		records = []model.SurveyResponseRecord{}
	}

	writeJSON(w, http.StatusOK, &model.ListResponsesResponse{
		SurveyID:  surveyID,
		Responses: records,
		Total:     len(records),
	})
}

// ListCalls handles GET /api/v1/calls
func (h *OperatorHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	resp, err := h.calls.ActiveCalls(r.Context())
	if err != nil {
		h.logger.Error("failed to list calls", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DropCall handles DELETE /api/v1/calls/{callID}
func (h *OperatorHandler) DropCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if err := middleware.ValidateCallID(callID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.calls.DropCall(r.Context(), callID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		h.logger.Error("failed to drop call", zap.String("call_id", callID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to drop call")
		return
	}

	h.logger.Info("call dropped",
		zap.String("call_id", callID),
		zap.String("operator", middleware.GetOperator(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}
