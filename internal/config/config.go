// Package config provides environment configuration for the voice survey server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by the *_BACKEND settings.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFile      = "file"
	BackendJetStream = "jetstream"
	BackendLocal     = "local"
	BackendS3        = "s3"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	PublicBaseURL      string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Surveys
	SurveyDir string

	// Conversation state
	ConversationBackend string
	RedisURL            string
	RedisPrefix         string

	// Survey responses
	ResponseBackend string
	ResponseDir     string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string
	LLMBaseURL      string
	LLMMaxTokens    int
	LLMTimeout      time.Duration

	// Speech settings
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModelID string
	SpeechTimeout     time.Duration
	FallbackVoice     string
	SpeechLanguage    string

	// Synthesized audio hosting
	AudioBackend      string
	AudioDir          string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	S3PublicBaseURL   string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Carrier webhook signing
	TwilioAuthToken string

	// Call limits
	CallDeadline    time.Duration
	MaxCallDuration time.Duration
	ReapSchedule    string
	MaxTurns        int
	MaxSilentTurns  int

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	Environment string
	LogLevel    string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// Surveys
		SurveyDir: getEnv("SURVEY_DIR", "./data/surveys"),

		// Conversation state
		ConversationBackend: getEnv("CONVERSATION_BACKEND", BackendMemory),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:         getEnv("REDIS_PREFIX", "voice-survey"),

		// Survey responses
		ResponseBackend: getEnv("RESPONSE_BACKEND", BackendFile),
		ResponseDir:     getEnv("RESPONSE_DIR", "./data/responses"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),
		LLMMaxTokens:    getIntEnv("LLM_MAX_TOKENS", 512),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 8*time.Second),

		// Speech
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", ""),
		ElevenLabsModelID: getEnv("ELEVENLABS_MODEL_ID", ""),
		SpeechTimeout:     getDurationEnv("SPEECH_TIMEOUT", 4*time.Second),
		FallbackVoice:     getEnv("FALLBACK_VOICE", "Polly.Joanna"),
		SpeechLanguage:    getEnv("SPEECH_LANGUAGE", "en-US"),

		// Audio
		AudioBackend:      getEnv("AUDIO_BACKEND", BackendLocal),
		AudioDir:          getEnv("AUDIO_DIR", "./data/audio"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Prefix:          getEnv("S3_PREFIX", "call-audio"),
		S3PublicBaseURL:   getEnv("S3_PUBLIC_BASE_URL", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:    getBoolEnv("S3_USE_PATH_STYLE", false),

		// Carrier
		TwilioAuthToken: getEnv("TWILIO_AUTH_TOKEN", ""),

		// Call limits
		CallDeadline:    getDurationEnv("CALL_DEADLINE", 12*time.Second),
		MaxCallDuration: getDurationEnv("MAX_CALL_DURATION", time.Hour),
		ReapSchedule:    getEnv("REAP_SCHEDULE", "@every 1m"),
		MaxTurns:        getIntEnv("MAX_TURNS", 40),
		MaxSilentTurns:  getIntEnv("MAX_SILENT_TURNS", 3),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		Environment: getEnv("ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if !oneOf(c.ConversationBackend, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Errorf("CONVERSATION_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.ConversationBackend))
	}
	if !oneOf(c.ResponseBackend, BackendFile, BackendJetStream) {
		errs = append(errs, fmt.Errorf("RESPONSE_BACKEND must be %q or %q, got %q", BackendFile, BackendJetStream, c.ResponseBackend))
	}
	if !oneOf(c.AudioBackend, BackendLocal, BackendS3) {
		errs = append(errs, fmt.Errorf("AUDIO_BACKEND must be %q or %q, got %q", BackendLocal, BackendS3, c.AudioBackend))
	}
	if c.AudioBackend == BackendS3 && c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required when AUDIO_BACKEND is s3"))
	}
	if !oneOf(c.DefaultLLM, "anthropic", "openai") {
		errs = append(errs, fmt.Errorf("DEFAULT_LLM must be anthropic or openai, got %q", c.DefaultLLM))
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"LLM_MAX_TOKENS", int64(c.LLMMaxTokens)},
		{"LLM_TIMEOUT", int64(c.LLMTimeout)},
		{"SPEECH_TIMEOUT", int64(c.SpeechTimeout)},
		{"CALL_DEADLINE", int64(c.CallDeadline)},
		{"MAX_CALL_DURATION", int64(c.MaxCallDuration)},
		{"MAX_TURNS", int64(c.MaxTurns)},
		{"MAX_SILENT_TURNS", int64(c.MaxSilentTurns)},
		{"RATE_LIMIT_REQUESTS", int64(c.RateLimitRequests)},
		{"RATE_LIMIT_WINDOW", int64(c.RateLimitWindow)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}

	// The carrier gives up on a webhook after about 15s, so one turn's
	// generation plus synthesis has to fit inside the invocation deadline.
	if c.CallDeadline > 0 && c.LLMTimeout+c.SpeechTimeout > c.CallDeadline {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT + SPEECH_TIMEOUT (%s) must not exceed CALL_DEADLINE (%s)",
			c.LLMTimeout+c.SpeechTimeout, c.CallDeadline))
	}

	return errors.Join(errs...)
}

// TurnURL is the absolute URL the carrier posts the next utterance to.
func (c *Config) TurnURL(surveyID string) string {
	return c.PublicBaseURL + "/voice/calls/turn?surveyId=" + url.QueryEscape(surveyID)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
