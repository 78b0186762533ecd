package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/model"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

// RedisConfig configures the Redis-backed conversation store.
type RedisConfig struct {
	// Prefix namespaces keys as "<prefix>:conv:<callId>". Default "voice-survey".
	Prefix string

	// MaxCallDuration bounds how long a state may live. Keys expire this long
	// after the call started, so abandoned calls clean themselves up.
	MaxCallDuration time.Duration

	// Logger reports values List has to discard. Defaults to a no-op logger.
	Logger *logger.Logger
}

// RedisStore keeps conversation state in Redis as JSON values with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	maxAge time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "voice-survey"
	}
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		maxAge: cfg.MaxCallDuration,
		log:    cfg.Logger,
		now:    time.Now,
	}
}

// NewRedisClient parses a redis:// URL and connects.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(callID string) string {
	return fmt.Sprintf("%s:conv:%s", s.prefix, callID)
}

// Get loads a conversation.
func (s *RedisStore) Get(ctx context.Context, callID string) (*model.ConversationState, error) {
	data, err := s.client.Get(ctx, s.key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var state model.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", callID, err)
	}
	return &state, nil
}

// Put stores a conversation with a TTL measured from the call start.
func (s *RedisStore) Put(ctx context.Context, state *model.ConversationState) error {
	if state == nil || state.CallID == "" {
		return errors.New("conversation call id is required")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	ttl := s.maxAge - state.Age(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, s.key(state.CallID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation.
func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, s.key(callID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// List scans every conversation key. Keys that expire mid-scan are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*model.ConversationState, error) {
	var out []*model.ConversationState

	iter := s.client.Scan(ctx, 0, s.prefix+":conv:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read conversation: %w", err)
		}
		var state model.ConversationState
		if err := json.Unmarshal(data, &state); err != nil {
			// No call can resume from an undecodable value, so drop it.
			s.log.Warn("deleting undecodable conversation", zap.String("key", iter.Val()), zap.Error(err))
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				s.log.Warn("failed to delete undecodable conversation", zap.String("key", iter.Val()), zap.Error(err))
			}
			continue
		}
		out = append(out, &state)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
