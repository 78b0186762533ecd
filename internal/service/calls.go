package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// terminalStatuses are carrier call statuses after which no webhook follows.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// IsTerminalStatus reports whether a carrier status means the call is over.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// HandleStatus drops conversation state once the carrier reports the call
// ended. It returns true when state was cleared.
func (s *CallService) HandleStatus(ctx context.Context, callID, status string) (bool, error) {
	if callID == "" {
		return false, ErrMissingCallID
	}
	if !IsTerminalStatus(status) {
		return false, nil
	}

	if err := s.store.Delete(ctx, callID); err != nil {
		return false, fmt.Errorf("delete conversation %s: %w", callID, err)
	}
	s.logger.Info("call status received, conversation cleared",
		zap.String("call_id", callID),
		zap.String("status", status),
	)
	return true, nil
}

// ActiveCalls lists conversations currently in progress.
func (s *CallService) ActiveCalls(ctx context.Context) (*model.ListCallsResponse, error) {
	states, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	calls := make([]model.CallSummary, 0, len(states))
	for _, st := range states {
		calls = append(calls, model.CallSummary{
			CallID:    st.CallID,
			SurveyID:  st.SurveyID,
			Turns:     len(st.History),
			StartTime: st.StartTime,
			UpdatedAt: st.UpdatedAt,
		})
	}

	return &model.ListCallsResponse{Calls: calls, Total: len(calls)}, nil
}

// DropCall removes a conversation on operator request. The next webhook for
// the call ends it with an apology.
func (s *CallService) DropCall(ctx context.Context, callID string) error {
	if _, err := s.store.Get(ctx, callID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, callID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", callID, err)
	}
	s.logger.Info("conversation dropped by operator", zap.String("call_id", callID))
	return nil
}
