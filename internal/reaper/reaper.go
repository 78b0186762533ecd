// Package reaper deletes conversation state left behind by calls that ended
// without a final webhook.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/internal/store"
	"github.com/capitalize-ai/voice-survey/pkg/logger"
	"github.com/capitalize-ai/voice-survey/pkg/metrics"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ValidateSchedule reports whether schedule is a usable cron expression.
func ValidateSchedule(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	return nil
}

// Reaper removes conversations older than a maximum call duration.
type Reaper struct {
	store  store.ConversationStore
	maxAge time.Duration
	now    func() time.Time
	logger *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a reaper.
func New(conversations store.ConversationStore, maxAge time.Duration, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reaper{
		store:  conversations,
		maxAge: maxAge,
		now:    time.Now,
		logger: log,
	}
}

// Sweep deletes every conversation that started more than maxAge ago and
// returns how many were removed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	states, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	now := r.now()
	var errs []error
	reaped := 0
	for _, st := range states {
		if st.Age(now) <= r.maxAge {
			continue
		}
		if err := r.store.Delete(ctx, st.CallID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", st.CallID, err))
			continue
		}
		reaped++
		r.logger.Info("reaped orphaned conversation",
			zap.String("call_id", st.CallID),
			zap.String("survey_id", st.SurveyID),
			zap.Duration("age", st.Age(now)),
		)
	}

	metrics.RecordReaped(reaped)
	return reaped, errors.Join(errs...)
}

// Start runs Sweep on schedule until Stop is called.
func (r *Reaper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reaper already started")
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, r.run); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("conversation reaper started",
		zap.String("schedule", schedule),
		zap.Duration("max_call_duration", r.maxAge),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to expire.
func (r *Reaper) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("conversation sweep failed", zap.Int("reaped", n), zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("conversation sweep finished", zap.Int("reaped", n))
	}
}
