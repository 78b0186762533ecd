// Package speech renders assistant text as something the caller can hear.
package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/pkg/logger"
	"github.com/capitalize-ai/voice-survey/pkg/metrics"
	"github.com/capitalize-ai/voice-survey/pkg/tracing"
)

// ErrNotConfigured is returned by a synthesizer that lacks credentials.
var ErrNotConfigured = errors.New("speech synthesizer not configured")

// Path records which rendering produced a Speech.
type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
)

const (
	DefaultFallbackVoice = "Polly.Joanna"
	DefaultLanguage      = "en-US"
	defaultTimeout       = 10 * time.Second
)

// Speech is a rendered utterance: either hosted audio to play or text for the
// carrier's built-in voice.
type Speech struct {
	Text     string
	AudioURL string
	Voice    string
	Language string
	Path     Path
}

// IsAudio reports whether the speech should be played from AudioURL.
func (s Speech) IsAudio() bool {
	return s.AudioURL != ""
}

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
	Name() string
}

// Audio is synthesized audio.
type Audio struct {
	Data        []byte
	ContentType string
	Extension   string
}

// AudioStore persists audio where the carrier can fetch it.
type AudioStore interface {
	// Save stores data under name and returns its public URL.
	Save(ctx context.Context, name string, audio *Audio) (string, error)
}

// Config configures an Adapter.
type Config struct {
	FallbackVoice string
	Language      string
	Timeout       time.Duration
}

// Adapter tries the primary synthesizer once and falls back to the carrier
// voice on any failure. Speak never fails.
type Adapter struct {
	primary Synthesizer
	audio   AudioStore
	cfg     Config
	log     *logger.Logger
}

// NewAdapter creates an adapter. A nil primary or audio store means every
// utterance uses the fallback voice.
func NewAdapter(primary Synthesizer, audio AudioStore, cfg Config, log *logger.Logger) *Adapter {
	if cfg.FallbackVoice == "" {
		cfg.FallbackVoice = DefaultFallbackVoice
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{primary: primary, audio: audio, cfg: cfg, log: log}
}

// Speak renders text, preferring the primary synthesizer.
func (a *Adapter) Speak(ctx context.Context, text string) Speech {
	ctx, span := tracing.Start(ctx, "speech.Speak")
	defer span.End()

	s, err := a.attempt(ctx, text)
	if err == nil {
		span.SetAttributes(attribute.String("speech.path", string(PathPrimary)))
		metrics.RecordSpeech(string(PathPrimary))
		return s
	}

	if !errors.Is(err, ErrNotConfigured) {
		span.RecordError(err)
		a.log.Warn("primary speech failed, using fallback voice", zap.Error(err))
	}
	span.SetAttributes(attribute.String("speech.path", string(PathFallback)))
	return a.Fallback(text)
}

// Fallback renders text with the carrier's built-in voice.
func (a *Adapter) Fallback(text string) Speech {
	metrics.RecordSpeech(string(PathFallback))
	return Speech{
		Text:     text,
		Voice:    a.cfg.FallbackVoice,
		Language: a.cfg.Language,
		Path:     PathFallback,
	}
}

func (a *Adapter) attempt(ctx context.Context, text string) (Speech, error) {
	if a.primary == nil || a.audio == nil {
		return Speech{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	audio, err := a.primary.Synthesize(ctx, text)
	if err != nil {
		return Speech{}, err
	}
	if audio == nil || len(audio.Data) == 0 {
		return Speech{}, fmt.Errorf("%s returned no audio", a.primary.Name())
	}

	ext := audio.Extension
	if ext == "" {
		ext = ".mp3"
	}
	url, err := a.audio.Save(ctx, uuid.NewString()+ext, audio)
	if err != nil {
		return Speech{}, fmt.Errorf("save audio: %w", err)
	}

	return Speech{Text: text, AudioURL: url, Path: PathPrimary}, nil
}
