package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// MemoryStore keeps conversation state in process memory.
// Values are copied on the way in and out.
type MemoryStore struct {
	conversations map[string]*model.ConversationState
	mu            sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.ConversationState),
	}
}

// Get retrieves a conversation by call id.
func (s *MemoryStore) Get(ctx context.Context, callID string) (*model.ConversationState, error) {
	s.mu.RLock()
	conv, exists := s.conversations[callID]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// Put stores a conversation.
func (s *MemoryStore) Put(ctx context.Context, state *model.ConversationState) error {
	if state == nil || state.CallID == "" {
		return errors.New("conversation call id is required")
	}

	s.mu.Lock()
	s.conversations[state.CallID] = state.Clone()
	s.mu.Unlock()
	return nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	delete(s.conversations, callID)
	s.mu.Unlock()
	return nil
}

// List returns all conversations ordered by start time.
func (s *MemoryStore) List(ctx context.Context) ([]*model.ConversationState, error) {
	s.mu.RLock()
	out := make([]*model.ConversationState, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
