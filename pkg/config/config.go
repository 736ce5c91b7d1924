// Package config loads the application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Audio     AudioConfig     `json:"audio"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Providers ProvidersConfig `json:"providers"`
	Agent     AgentConfig     `json:"agent"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds the HTTP/WebSocket server configuration
type HTTPConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	EnableMetrics   bool          `json:"enable_metrics"`
}

// AudioConfig holds the telephony audio parameters
type AudioConfig struct {
	FrameDurationMs  int `json:"frame_duration_ms"`
	FlushThresholdMs int `json:"flush_threshold_ms"`
}

// PipelineConfig holds the inference pipeline parameters
type PipelineConfig struct {
	ProviderTimeout time.Duration `json:"provider_timeout"`
	HistoryWindow   int           `json:"history_window"`
}

// ProvidersConfig selects and authenticates the inference providers
type ProvidersConfig struct {
	STTProvider         string `json:"stt_provider"`
	STTModel            string `json:"stt_model"`
	FallbackSTTProvider string `json:"fallback_stt_provider"`

	LLMProvider         string `json:"llm_provider"`
	LLMModel            string `json:"llm_model"`
	FallbackLLMProvider string `json:"fallback_llm_provider"`

	TTSProvider         string `json:"tts_provider"`
	TTSModel            string `json:"tts_model"`
	FallbackTTSProvider string `json:"fallback_tts_provider"`
	VoiceID             string `json:"voice_id"`

	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`

	GroqAPIKey       string `json:"-"`
	OpenAIAPIKey     string `json:"-"`
	DeepgramAPIKey   string `json:"-"`
	ElevenLabsAPIKey string `json:"-"`
	GeminiAPIKey     string `json:"-"`
}

// AgentConfig holds the default tenant agent behavior for single-tenant
// deployments.
type AgentConfig struct {
	TenantID        string  `json:"tenant_id"`
	SystemPrompt    string  `json:"system_prompt"`
	GreetingMessage string  `json:"greeting_message"`
	FillerMessage   string  `json:"filler_message"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	RAGEnabled      bool    `json:"rag_enabled"`
	RAGTopK         int     `json:"rag_top_k"`
}

// MessagingConfig holds the AMQP call-persistence configuration
type MessagingConfig struct {
	Enabled  bool   `json:"enabled"`
	AMQPUrl  string `json:"-"`
	Queue    string `json:"queue"`
	Durable  bool   `json:"durable"`
	Exchange string `json:"exchange"`
}

// LoggingConfig holds the logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from the environment, loading a .env file first
// when one exists in the working directory.
func Load(logger *logrus.Logger) (*Config, error) {
	if _, statErr := os.Stat(".env"); statErr == nil {
		if err := godotenv.Load(); err != nil {
			logger.WithError(err).Warn("Failed to load .env file, using environment variables only")
		} else {
			logger.Info("Loaded configuration from .env file")
		}
	} else {
		logger.Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}
	loadAudioConfig(logger, &config.Audio)
	loadPipelineConfig(&config.Pipeline)
	loadProvidersConfig(&config.Providers)
	loadAgentConfig(&config.Agent)
	loadMessagingConfig(&config.Messaging)
	loadLoggingConfig(&config.Logging)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	httpPortStr := getEnv("HTTP_PORT", "8080")
	httpPort, err := strconv.Atoi(httpPortStr)
	if err != nil || httpPort < 1 || httpPort > 65535 {
		logger.Warn("Invalid HTTP_PORT value, using default: 8080")
		httpPort = 8080
	}
	config.Port = httpPort

	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	return nil
}

func loadAudioConfig(logger *logrus.Logger, config *AudioConfig) {
	config.FrameDurationMs = getEnvInt("AUDIO_FRAME_DURATION_MS", 20)
	config.FlushThresholdMs = getEnvInt("AUDIO_FLUSH_THRESHOLD_MS", 2000)

	if config.FrameDurationMs <= 0 {
		logger.Warn("Invalid AUDIO_FRAME_DURATION_MS value, using default: 20")
		config.FrameDurationMs = 20
	}
	if config.FlushThresholdMs <= 0 {
		logger.Warn("Invalid AUDIO_FLUSH_THRESHOLD_MS value, using default: 2000")
		config.FlushThresholdMs = 2000
	}
}

func loadPipelineConfig(config *PipelineConfig) {
	config.ProviderTimeout = getEnvDuration("PIPELINE_PROVIDER_TIMEOUT", 10*time.Second)
	config.HistoryWindow = getEnvInt("PIPELINE_HISTORY_WINDOW", 10)
}

func loadProvidersConfig(config *ProvidersConfig) {
	config.STTProvider = getEnv("STT_PROVIDER", "groq")
	config.STTModel = getEnv("STT_MODEL", "")
	config.FallbackSTTProvider = getEnv("STT_FALLBACK_PROVIDER", "")

	config.LLMProvider = getEnv("LLM_PROVIDER", "groq")
	config.LLMModel = getEnv("LLM_MODEL", "")
	config.FallbackLLMProvider = getEnv("LLM_FALLBACK_PROVIDER", "")

	config.TTSProvider = getEnv("TTS_PROVIDER", "elevenlabs")
	config.TTSModel = getEnv("TTS_MODEL", "")
	config.FallbackTTSProvider = getEnv("TTS_FALLBACK_PROVIDER", "")
	config.VoiceID = getEnv("TTS_VOICE_ID", "")

	config.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", "")
	config.EmbeddingModel = getEnv("EMBEDDING_MODEL", "")

	config.GroqAPIKey = getEnv("GROQ_API_KEY", "")
	config.OpenAIAPIKey = getEnv("OPENAI_API_KEY", "")
	config.DeepgramAPIKey = getEnv("DEEPGRAM_API_KEY", "")
	config.ElevenLabsAPIKey = getEnv("ELEVENLABS_API_KEY", "")
	config.GeminiAPIKey = getEnv("GEMINI_API_KEY", "")
}

func loadAgentConfig(config *AgentConfig) {
	config.TenantID = getEnv("AGENT_TENANT_ID", "default")
	config.SystemPrompt = getEnv("AGENT_SYSTEM_PROMPT", "You are a helpful voice assistant answering a phone call. Keep responses short and conversational.")
	config.GreetingMessage = getEnv("AGENT_GREETING_MESSAGE", "Hello! How can I help you today?")
	config.FillerMessage = getEnv("AGENT_FILLER_MESSAGE", "")
	config.Temperature = getEnvFloat("AGENT_TEMPERATURE", 0.7)
	config.MaxTokens = getEnvInt("AGENT_MAX_TOKENS", 256)
	config.RAGEnabled = getEnvBool("AGENT_RAG_ENABLED", false)
	config.RAGTopK = getEnvInt("AGENT_RAG_TOP_K", 5)
}

func loadMessagingConfig(config *MessagingConfig) {
	config.Enabled = getEnvBool("AMQP_ENABLED", false)
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.Queue = getEnv("AMQP_QUEUE", "voiceagent_calls")
	config.Durable = getEnvBool("AMQP_QUEUE_DURABLE", true)
	config.Exchange = getEnv("AMQP_EXCHANGE", "")
}

func loadLoggingConfig(config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	config.Format = getEnv("LOG_FORMAT", "json")
}

// Validate checks cross-field requirements that the per-section loaders
// cannot default away.
func (c *Config) Validate() error {
	if c.Providers.STTProvider == "" {
		return errors.New("STT_PROVIDER is required")
	}
	if c.Providers.LLMProvider == "" {
		return errors.New("LLM_PROVIDER is required")
	}
	if c.Providers.TTSProvider == "" {
		return errors.New("TTS_PROVIDER is required")
	}
	if c.Messaging.Enabled && c.Messaging.AMQPUrl == "" {
		return errors.New("AMQP_URL is required when AMQP_ENABLED is set")
	}
	if c.Audio.FlushThresholdMs < c.Audio.FrameDurationMs {
		return errors.New(fmt.Sprintf("AUDIO_FLUSH_THRESHOLD_MS (%d) must be at least one frame duration (%d)", c.Audio.FlushThresholdMs, c.Audio.FrameDurationMs))
	}
	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
