package service

import (
	"context"
	"errors"
	"testing"

	"github.com/capitalize-ai/voice-survey/internal/store"
)

func TestHandleStatus(t *testing.T) {
	tests := []struct {
		status  string
		cleared bool
	}{
		{"completed", true},
		{"no-answer", true},
		{"canceled", true},
		{"in-progress", false},
		{"ringing", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			h := newHarness(t, Config{}, "Q1?")
			ctx := context.Background()
			h.svc.Handle(ctx, newCall("s1", "c1"))

			cleared, err := h.svc.HandleStatus(ctx, "c1", tt.status)
			if err != nil {
				t.Fatalf("HandleStatus: %v", err)
			}
			if cleared != tt.cleared {
				t.Fatalf("cleared = %v, want %v", cleared, tt.cleared)
			}
			_, getErr := h.store.Get(ctx, "c1")
			if gone := errors.Is(getErr, store.ErrNotFound); gone != tt.cleared {
				t.Errorf("state deleted = %v, want %v", gone, tt.cleared)
			}
		})
	}

	h := newHarness(t, Config{})
	if _, err := h.svc.HandleStatus(context.Background(), "", "completed"); !errors.Is(err, ErrMissingCallID) {
		t.Errorf("expected ErrMissingCallID, got %v", err)
	}
}

func TestActiveCallsAndDropCall(t *testing.T) {
	h := newHarness(t, Config{}, "Q1?", "Q1?", "Q2?")
	ctx := context.Background()
	h.svc.Handle(ctx, newCall("s1", "c1"))
	h.svc.Handle(ctx, newCall("s1", "c2"))
	h.svc.Handle(ctx, turnEvent("s1", "c2", "ten"))

	calls, err := h.svc.ActiveCalls(ctx)
	if err != nil {
		t.Fatalf("ActiveCalls: %v", err)
	}
	if calls.Total != 2 {
		t.Fatalf("expected 2 calls, got %+v", calls)
	}
	turns := map[string]int{}
	for _, c := range calls.Calls {
		turns[c.CallID] = c.Turns
	}
	if turns["c1"] != 1 || turns["c2"] != 3 {
		t.Errorf("unexpected turn counts %v", turns)
	}

	if err := h.svc.DropCall(ctx, "c1"); err != nil {
		t.Fatalf("DropCall: %v", err)
	}
	if err := h.svc.DropCall(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second drop, got %v", err)
	}

	// The dropped call's next webhook ends it gracefully.
	out := h.svc.Handle(ctx, turnEvent("s1", "c1", "hello"))
	if out.Action != ActionHangup || out.Failure != FailureLookup {
		t.Errorf("unexpected outcome after drop: %+v", out)
	}
}
