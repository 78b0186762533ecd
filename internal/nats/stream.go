package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

const (
	// StreamName is the name of the survey responses stream.
	StreamName = "SURVEY_RESPONSES"

	// SubjectPrefix is the prefix for all response subjects.
	SubjectPrefix = "survey"

	// DuplicateWindow bounds how long a repeated append for the same call is dropped.
	DuplicateWindow = 24 * time.Hour

	fetchBatch = 100
)

// ResponseSubject returns the subject a survey's responses are published on.
func ResponseSubject(surveyID string) string {
	return fmt.Sprintf("%s.%s.response", SubjectPrefix, surveyID)
}

// MsgID returns the de-duplication id for a record: one response per call.
func MsgID(rec *model.SurveyResponseRecord) string {
	return fmt.Sprintf("%s:%s", rec.SurveyID, rec.CallID)
}

// ResponseStream stores survey responses in a JetStream stream. Each append
// is one atomic publish, so no read-modify-write or locking is involved.
type ResponseStream struct {
	client *Client
	log    *logger.Logger
}

// NewResponseStream creates a new response stream.
func NewResponseStream(client *Client, log *logger.Logger) *ResponseStream {
	if log == nil {
		log = logger.NewNop()
	}
	return &ResponseStream{client: client, log: log}
}

// EnsureStream ensures the responses stream exists with proper configuration.
func (s *ResponseStream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.*.response", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  DuplicateWindow,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Append-only survey response records",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Append publishes one response record.
func (s *ResponseStream) Append(ctx context.Context, rec *model.SurveyResponseRecord) error {
	if rec == nil || rec.SurveyID == "" {
		return errors.New("response record requires a survey id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, ResponseSubject(rec.SurveyID), data,
		jetstream.WithMsgID(MsgID(rec)),
		jetstream.WithExpectStream(StreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}
	if ack.Duplicate {
		s.log.Warn("duplicate survey response dropped",
			zap.String("survey_id", rec.SurveyID),
			zap.String("call_id", rec.CallID),
		)
	}

	return nil
}

// List replays every response for a survey through an ephemeral consumer.
func (s *ResponseStream) List(ctx context.Context, surveyID string) ([]model.SurveyResponseRecord, error) {
	js := s.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     ResponseSubject(surveyID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		name := consumer.CachedInfo().Name
		if err := js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, name); err != nil {
			s.log.Debug("failed to delete ephemeral consumer", zap.String("consumer", name), zap.Error(err))
		}
	}()

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read consumer info: %w", err)
	}

	pending := int(info.NumPending)
	records := make([]model.SurveyResponseRecord, 0, pending)

	for len(records) < pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := consumer.Fetch(min(fetchBatch, pending-len(records)), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch responses: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var rec model.SurveyResponseRecord
			if err := json.Unmarshal(msg.Data(), &rec); err != nil {
				s.log.Warn("skipping undecodable response", zap.String("subject", msg.Subject()), zap.Error(err))
				pending--
				continue
			}
			records = append(records, rec)
		}

		if batch.Error() != nil && !errors.Is(batch.Error(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", batch.Error())
		}
		if received == 0 {
			break
		}
	}

	return records, nil
}
