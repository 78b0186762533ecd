package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

func testSurvey() *model.SurveyDefinition {
	return &model.SurveyDefinition{
		ID:    "s1",
		Title: "Service check",
		Questions: []model.Question{
			{Prompt: "How was your visit?", Type: model.QuestionText},
		},
	}
}

func newState(callID string, start time.Time) *model.ConversationState {
	return model.NewConversationState(callID, testSurvey(), start)
}

func testStores(t *testing.T) map[string]ConversationStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]ConversationStore{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, RedisConfig{Prefix: "test", MaxCallDuration: time.Hour}),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			state := newState("c1", time.Now())
			state.AppendAssistant("Hi, how was your visit?", time.Now())
			if err := s.Put(ctx, state); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := s.Get(ctx, "c1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.SurveyID != "s1" || len(got.History) != 1 {
				t.Fatalf("unexpected state: %+v", got)
			}
			if got.History[0].Speaker != model.SpeakerAssistant {
				t.Errorf("expected assistant turn, got %s", got.History[0].Speaker)
			}

			if err := s.Delete(ctx, "c1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}

			// Deleting a missing call is not an error.
			if err := s.Delete(ctx, "missing"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
		})
	}
}

func TestStoreRejectsEmptyCallID(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(context.Background(), &model.ConversationState{}); err == nil {
				t.Fatal("expected error for empty call id")
			}
		})
	}
}

func TestStoreListOrdersByStartTime(t *testing.T) {
	base := time.Now().Add(-10 * time.Minute)
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := []struct {
				id     string
				offset time.Duration
			}{
				{"late", 3 * time.Minute},
				{"early", 0},
				{"middle", time.Minute},
			}
			for _, sd := range seed {
				if err := s.Put(ctx, newState(sd.id, base.Add(sd.offset))); err != nil {
					t.Fatalf("Put %s: %v", sd.id, err)
				}
			}

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("expected 3 states, got %d", len(list))
			}
			want := []string{"early", "middle", "late"}
			for i, st := range list {
				if st.CallID != want[i] {
					t.Errorf("position %d: expected %s, got %s", i, want[i], st.CallID)
				}
			}
		})
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	state := newState("c1", time.Now())
	if err := s.Put(ctx, state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	state.AppendCaller("changed", time.Now())

	got, _ := s.Get(ctx, "c1")
	if len(got.History) != 0 {
		t.Fatalf("store shares history with caller: %+v", got.History)
	}

	got.AppendCaller("also changed", time.Now())
	again, _ := s.Get(ctx, "c1")
	if len(again.History) != 0 {
		t.Fatalf("store shares history with reader: %+v", again.History)
	}
}

func TestRedisStoreExpiresAfterMaxCallDuration(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, RedisConfig{Prefix: "test", MaxCallDuration: 10 * time.Minute})
	ctx := context.Background()

	if err := s.Put(ctx, newState("c1", time.Now())); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ttl := mr.TTL("test:conv:c1")
	if ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("expected ttl close to 10m, got %s", ttl)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := s.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired state, got %v", err)
	}
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := mr.Set("test:conv:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewRedisStore(client, RedisConfig{Prefix: "test"})
	_, err := s.Get(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRedisStoreListSkipsCorruptValues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, RedisConfig{Prefix: "test"})
	ctx := context.Background()

	if err := s.Put(ctx, newState("c1", time.Now())); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mr.Set("test:conv:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	states, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List must not fail on one corrupt value: %v", err)
	}
	if len(states) != 1 || states[0].CallID != "c1" {
		t.Fatalf("unexpected states %+v", states)
	}
	if mr.Exists("test:conv:bad") {
		t.Errorf("corrupt value should be deleted")
	}
}
