package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Speech provider and answer source identifiers accepted in configuration.
const (
	STTProviderAssemblyAI = "assemblyai"
	STTProviderDeepgram   = "deepgram"
	STTProviderGoogle     = "google"

	TTSProviderElevenLabs = "elevenlabs"
	TTSProviderCartesia   = "cartesia"

	AnswerSourceSTT    = "stt"
	AnswerSourceClient = "client"
)

// maxSTTCloseWait bounds how long a session waits for the STT provider to
// acknowledge a termination message.
const maxSTTCloseWait = time.Second

// Config holds all configuration for the interview gateway
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"`

	// Postgres connection string. Empty keeps interviews and reports in memory.
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`

	// HS256 secret used to validate student and admin tokens
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Speech-to-text
	STTProvider       string `envconfig:"STT_PROVIDER" default:"assemblyai"` // assemblyai, deepgram, google
	STTSampleRate     int    `envconfig:"STT_SAMPLE_RATE" default:"16000"`
	AssemblyAIAPIKey  string `envconfig:"ASSEMBLYAI_API_KEY" default:""`
	AssemblyAIURL     string `envconfig:"ASSEMBLYAI_URL" default:"wss://streaming.assemblyai.com/v3/ws"`
	DeepgramAPIKey    string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel     string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage  string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramEncoding  string `envconfig:"DEEPGRAM_ENCODING" default:"opus"`
	DeepgramRate      int    `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"48000"`
	GoogleCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS" default:""` // service account key file
	GoogleLanguage    string `envconfig:"GOOGLE_SPEECH_LANGUAGE" default:"en-US"`
	// linear16, webm_opus or ogg_opus
	GoogleEncoding    string `envconfig:"GOOGLE_SPEECH_ENCODING" default:"linear16"`
	STTCloseWaitMs    int    `envconfig:"STT_CLOSE_WAIT_MS" default:"200"` // capped at 1000
	MaxAudioChunkSize int    `envconfig:"MAX_AUDIO_CHUNK_BYTES" default:"524288"`

	// Text-to-speech
	TTSProvider            string `envconfig:"TTS_PROVIDER" default:"elevenlabs"` // elevenlabs, cartesia
	ElevenLabsAPIKey       string `envconfig:"ELEVENLABS_API_KEY" default:""`
	ElevenLabsVoiceID      string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModelID      string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`
	ElevenLabsURL          string `envconfig:"ELEVENLABS_URL" default:"wss://api.elevenlabs.io/v1/text-to-speech"`
	ElevenLabsOutputFormat string `envconfig:"ELEVENLABS_OUTPUT_FORMAT" default:"pcm_16000"`
	CartesiaAPIKey         string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaURL            string `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/tts/bytes"`
	CartesiaVoiceID        string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID        string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Where answer text comes from: final STT transcripts or client "answer" messages
	AnswerSource string `envconfig:"ANSWER_SOURCE" default:"stt"`

	// LLM and vision
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIQuestionModel string `envconfig:"OPENAI_QUESTION_MODEL" default:"gpt-4o-mini"`
	OpenAIReportModel   string `envconfig:"OPENAI_REPORT_MODEL" default:"gpt-4o-mini"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel         string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	PromptsFile         string `envconfig:"PROMPTS_FILE" default:""` // YAML overriding the embedded prompts

	// Event publishing
	KafkaEnabled          bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers          []string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopicTranscripts string   `envconfig:"KAFKA_TOPIC_TRANSCRIPTS" default:"interview.transcripts"`
	KafkaTopicLifecycle   string   `envconfig:"KAFKA_TOPIC_LIFECYCLE" default:"interview.lifecycle"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Database connect attempts at boot
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings and numeric bounds. Provider
// credentials are not required here; sessions report them missing at
// connect time so the REST surface can run without voice keys.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.STTProvider {
	case STTProviderAssemblyAI, STTProviderDeepgram, STTProviderGoogle:
	default:
		return fmt.Errorf("unsupported STT_PROVIDER %q", c.STTProvider)
	}
	switch c.TTSProvider {
	case TTSProviderElevenLabs, TTSProviderCartesia:
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTSProvider)
	}
	switch c.AnswerSource {
	case AnswerSourceSTT, AnswerSourceClient:
	default:
		return fmt.Errorf("unsupported ANSWER_SOURCE %q", c.AnswerSource)
	}
	if c.MaxAudioChunkSize <= 0 {
		return fmt.Errorf("MAX_AUDIO_CHUNK_BYTES must be positive")
	}
	if c.STTCloseWaitMs < 0 {
		return fmt.Errorf("STT_CLOSE_WAIT_MS must not be negative")
	}
	return nil
}

// STTCloseWait returns the flush wait used when closing an STT stream.
func (c *Config) STTCloseWait() time.Duration {
	wait := time.Duration(c.STTCloseWaitMs) * time.Millisecond
	if wait > maxSTTCloseWait {
		return maxSTTCloseWait
	}
	return wait
}

// STTCredential returns the API key for the configured STT provider.
// For Google it is the service account key file.
func (c *Config) STTCredential() string {
	switch c.STTProvider {
	case STTProviderDeepgram:
		return c.DeepgramAPIKey
	case STTProviderGoogle:
		return c.GoogleCredentials
	}
	return c.AssemblyAIAPIKey
}

// TTSCredential returns the API key for the configured TTS provider.
func (c *Config) TTSCredential() string {
	if c.TTSProvider == TTSProviderCartesia {
		return c.CartesiaAPIKey
	}
	return c.ElevenLabsAPIKey
}
