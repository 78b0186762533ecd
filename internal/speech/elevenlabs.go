package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsModel   = "eleven_turbo_v2_5"
	maxAudioBytes            = 10 << 20
)

// ElevenLabsConfig configures the ElevenLabs synthesizer.
type ElevenLabsConfig struct {
	APIKey          string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	BaseURL         string
}

// ElevenLabs synthesizes speech through the ElevenLabs HTTP API.
type ElevenLabs struct {
	cfg      ElevenLabsConfig
	client   *http.Client
	maxBytes int64
}

// NewElevenLabs creates a synthesizer. Missing credentials are reported on
// each Synthesize call as ErrNotConfigured.
func NewElevenLabs(cfg ElevenLabsConfig, client *http.Client) *ElevenLabs {
	if cfg.ModelID == "" {
		cfg.ModelID = defaultElevenLabsModel
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost == 0 {
		cfg.SimilarityBoost = 0.75
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabs{cfg: cfg, client: client, maxBytes: maxAudioBytes}
}

// Name returns the provider name.
func (e *ElevenLabs) Name() string {
	return "elevenlabs"
}

// Synthesize converts text to MP3 audio.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if e.cfg.APIKey == "" || e.cfg.VoiceID == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":        e.cfg.Stability,
			"similarity_boost": e.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		strings.TrimRight(e.cfg.BaseURL, "/"),
		url.PathEscape(e.cfg.VoiceID),
		url.QueryEscape(e.cfg.OutputFormat),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("elevenlabs: returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: failed to read audio: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("elevenlabs: audio exceeds %d bytes", e.maxBytes)
	}

	return &Audio{Data: data, ContentType: "audio/mpeg", Extension: ".mp3"}, nil
}
