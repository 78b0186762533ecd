package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/capitalize-ai/voice-survey/internal/llm"
	"github.com/capitalize-ai/voice-survey/internal/model"
)

type fakeClient struct {
	content string
	err     error
	delay   time.Duration
	calls   int
	last    *llm.CompletionRequest
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	f.last = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Model: "fake-1"}, nil
}

func testSurvey() *model.SurveyDefinition {
	return &model.SurveyDefinition{
		ID:    "s1",
		Title: "Clinic visit",
		Questions: []model.Question{
			{Prompt: "How would you rate your visit from 1 to 10?", Type: model.QuestionRating},
			{Prompt: "What could we improve?", Type: model.QuestionText},
		},
	}
}

func TestBuildInstructions(t *testing.T) {
	got := BuildInstructions(testSurvey())

	for _, want := range []string{
		"conversational survey agent",
		"Clinic visit",
		"1. How would you rate your visit from 1 to 10?",
		"2. What could we improve?",
		"one question at a time",
		"gently redirect",
		`{"status": "complete", "answers": {"<index>": "<answer>", ...}}`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestBuildMessages(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		history []model.Turn
		want    []llm.ChatMessage
	}{
		{
			name: "empty history",
			want: []llm.ChatMessage{{Role: llm.RoleUser, Content: CueCallConnected}},
		},
		{
			name: "caller just answered",
			history: []model.Turn{
				{Speaker: model.SpeakerAssistant, Text: "Hi! How was your visit?", At: now},
				{Speaker: model.SpeakerCaller, Text: "Pretty good", At: now},
			},
			want: []llm.ChatMessage{
				{Role: llm.RoleUser, Content: CueCallConnected},
				{Role: llm.RoleAssistant, Content: "Hi! How was your visit?"},
				{Role: llm.RoleUser, Content: "Pretty good"},
			},
		},
		{
			name: "silence earlier in the call",
			history: []model.Turn{
				{Speaker: model.SpeakerAssistant, Text: "How was your visit?", At: now},
				{Speaker: model.SpeakerAssistant, Text: "Are you still there?", At: now},
				{Speaker: model.SpeakerCaller, Text: "Yes, sorry. It was fine.", At: now},
			},
			want: []llm.ChatMessage{
				{Role: llm.RoleUser, Content: CueCallConnected},
				{Role: llm.RoleAssistant, Content: "How was your visit?"},
				{Role: llm.RoleUser, Content: CueCallerSilent},
				{Role: llm.RoleAssistant, Content: "Are you still there?"},
				{Role: llm.RoleUser, Content: "Yes, sorry. It was fine."},
			},
		},
		{
			name: "caller silent",
			history: []model.Turn{
				{Speaker: model.SpeakerAssistant, Text: "Hi! How was your visit?", At: now},
			},
			want: []llm.ChatMessage{
				{Role: llm.RoleUser, Content: CueCallConnected},
				{Role: llm.RoleAssistant, Content: "Hi! How was your visit?"},
				{Role: llm.RoleUser, Content: CueCallerSilent},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildMessages(tt.history)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("message %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGeneratorNext(t *testing.T) {
	client := &fakeClient{content: "  Hi there! How would you rate your visit?\n"}
	gen := NewGenerator(client, Config{Model: "m", MaxTokens: 100}, nil)

	history := []model.Turn{}
	got, err := gen.Next(context.Background(), testSurvey(), history)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != "Hi there! How would you rate your visit?" {
		t.Errorf("got %q", got)
	}
	if client.calls != 1 {
		t.Errorf("expected exactly one completion call, got %d", client.calls)
	}
	if client.last.System == "" || client.last.Model != "m" || client.last.MaxTokens != 100 {
		t.Errorf("unexpected request: %+v", client.last)
	}
	if len(history) != 0 {
		t.Errorf("history was modified")
	}
}

func TestGeneratorErrors(t *testing.T) {
	netErr := errors.New("connection refused")

	tests := []struct {
		name    string
		client  *fakeClient
		timeout time.Duration
		wantErr error
	}{
		{"upstream error", &fakeClient{err: netErr}, 0, netErr},
		{"blank output", &fakeClient{content: " \n\t"}, 0, ErrEmptyOutput},
		{"timeout", &fakeClient{content: "late", delay: time.Second}, 20 * time.Millisecond, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewGenerator(tt.client, Config{Timeout: tt.timeout}, nil)
			_, err := gen.Next(context.Background(), testSurvey(), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if tt.client.calls != 1 {
				t.Errorf("expected no retries, got %d calls", tt.client.calls)
			}
		})
	}
}
