// Package store persists per-call conversation state between webhook invocations.
package store

import (
	"context"
	"errors"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// ErrNotFound is returned when no state exists for a call id.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore is a key-value store of conversation state keyed by call id.
type ConversationStore interface {
	// Get loads the state for a call. Returns ErrNotFound if absent.
	Get(ctx context.Context, callID string) (*model.ConversationState, error)

	// Put creates or replaces the state for state.CallID.
	Put(ctx context.Context, state *model.ConversationState) error

	// Delete removes the state for a call. Deleting a missing call is not an error.
	Delete(ctx context.Context, callID string) error

	// List returns every stored state. Used by the reaper and operator API.
	List(ctx context.Context) ([]*model.ConversationState, error)
}
