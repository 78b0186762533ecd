package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"

	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

func TestResponseSubject(t *testing.T) {
	tests := []struct {
		surveyID string
		want     string
	}{
		{"s1", "survey.s1.response"},
		{"clinic_visit-2025", "survey.clinic_visit-2025.response"},
	}

	for _, tt := range tests {
		if got := ResponseSubject(tt.surveyID); got != tt.want {
			t.Errorf("ResponseSubject(%q) = %q, want %q", tt.surveyID, got, tt.want)
		}
		// One token per survey so the stream's wildcard subject matches.
		if n := strings.Count(ResponseSubject(tt.surveyID), "."); n != 2 {
			t.Errorf("subject %q has %d separators, want 2", ResponseSubject(tt.surveyID), n)
		}
	}
}

func TestMsgIDIsPerCall(t *testing.T) {
	a := &model.SurveyResponseRecord{ID: "r1", SurveyID: "s1", CallID: "c1"}
	b := &model.SurveyResponseRecord{ID: "r2", SurveyID: "s1", CallID: "c1"}
	c := &model.SurveyResponseRecord{ID: "r3", SurveyID: "s1", CallID: "c2"}

	if MsgID(a) != MsgID(b) {
		t.Errorf("records for the same call must share a message id: %q vs %q", MsgID(a), MsgID(b))
	}
	if MsgID(a) == MsgID(c) {
		t.Errorf("records for different calls must not share a message id")
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(testContext(t), Config{}, nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

// newTestStream starts an embedded JetStream server and returns a response
// stream bound to it.
func newTestStream(t *testing.T) (*ResponseStream, *Client) {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	client, err := Connect(testContext(t), Config{URL: srv.ClientURL()}, logger.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(client.Close)

	stream := NewResponseStream(client, logger.NewNop())
	if err := stream.EnsureStream(testContext(t)); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	return stream, client
}

func testRecord(surveyID, callID, answer string) *model.SurveyResponseRecord {
	return &model.SurveyResponseRecord{
		ID:          surveyID + "-" + callID,
		SurveyID:    surveyID,
		CallID:      callID,
		SubmittedAt: time.Now().UTC(),
		Modality:    model.ModalityVoice,
		Answers:     model.AnswerSet{"0": answer},
	}
}

func TestEnsureStreamIsAppendOnly(t *testing.T) {
	stream, client := newTestStream(t)
	ctx := testContext(t)

	// A second call finds the existing stream.
	if err := stream.EnsureStream(ctx); err != nil {
		t.Fatalf("EnsureStream again: %v", err)
	}

	s, err := client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	cfg := s.CachedInfo().Config
	if !cfg.DenyDelete || !cfg.DenyPurge {
		t.Errorf("stream must deny delete and purge: %+v", cfg)
	}
	if cfg.Duplicates != DuplicateWindow {
		t.Errorf("duplicate window = %v", cfg.Duplicates)
	}
	if err := s.Purge(ctx); err == nil {
		t.Error("purge should be refused")
	}
}

func TestResponseStreamConcurrentAppends(t *testing.T) {
	stream, _ := newTestStream(t)
	ctx := testContext(t)

	const perSurvey = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*perSurvey)
	for i := 0; i < perSurvey; i++ {
		for _, surveyID := range []string{"s1", "s2"} {
			wg.Add(1)
			go func(surveyID string, i int) {
				defer wg.Done()
				errs <- stream.Append(ctx, testRecord(surveyID, fmt.Sprintf("c-%d", i), "yes"))
			}(surveyID, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	for _, surveyID := range []string{"s1", "s2"} {
		records, err := stream.List(ctx, surveyID)
		if err != nil {
			t.Fatalf("List %s: %v", surveyID, err)
		}
		if len(records) != perSurvey {
			t.Fatalf("%s: got %d records, want %d", surveyID, len(records), perSurvey)
		}
		seen := make(map[string]bool, len(records))
		for _, rec := range records {
			if rec.SurveyID != surveyID {
				t.Fatalf("%s: record from %s leaked into the listing", surveyID, rec.SurveyID)
			}
			seen[rec.CallID] = true
		}
		if len(seen) != perSurvey {
			t.Errorf("%s: %d distinct calls, want %d", surveyID, len(seen), perSurvey)
		}
	}
}

func TestResponseStreamListOrderAcrossBatches(t *testing.T) {
	stream, _ := newTestStream(t)
	ctx := testContext(t)

	// More than one fetch batch, interleaved with another survey.
	const n = fetchBatch + 30
	for i := 0; i < n; i++ {
		if err := stream.Append(ctx, testRecord("ordered", fmt.Sprintf("c-%03d", i), "ok")); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i%10 == 0 {
			if err := stream.Append(ctx, testRecord("other", fmt.Sprintf("c-%03d", i), "ok")); err != nil {
				t.Fatalf("Append other: %v", err)
			}
		}
	}

	records, err := stream.List(ctx, "ordered")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != n {
		t.Fatalf("got %d records, want %d", len(records), n)
	}
	for i, rec := range records {
		if want := fmt.Sprintf("c-%03d", i); rec.CallID != want {
			t.Fatalf("record %d is %s, want %s", i, rec.CallID, want)
		}
	}

	empty, err := stream.List(ctx, "never-answered")
	if err != nil {
		t.Fatalf("List empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no records, got %d", len(empty))
	}
}

func TestResponseStreamDropsDuplicateCall(t *testing.T) {
	stream, _ := newTestStream(t)
	ctx := testContext(t)

	if err := stream.Append(ctx, testRecord("s1", "c1", "first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := stream.Append(ctx, testRecord("s1", "c1", "second")); err != nil {
		t.Fatalf("duplicate Append should succeed quietly: %v", err)
	}
	if err := stream.Append(ctx, testRecord("s2", "c1", "other survey")); err != nil {
		t.Fatalf("Append s2: %v", err)
	}

	records, err := stream.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].Answers["0"] != "first" {
		t.Fatalf("expected only the first record for c1, got %+v", records)
	}
	if others, _ := stream.List(ctx, "s2"); len(others) != 1 {
		t.Errorf("same call id under another survey is a different response, got %d", len(others))
	}
}

func TestResponseStreamRejectsMissingSurvey(t *testing.T) {
	stream, _ := newTestStream(t)
	if err := stream.Append(testContext(t), testRecord("", "c1", "x")); err == nil {
		t.Fatal("expected error for a record without a survey id")
	}
	if err := stream.Append(testContext(t), nil); err == nil {
		t.Fatal("expected error for a nil record")
	}
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
