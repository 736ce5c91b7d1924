// Package providers defines the capability contracts the voice pipeline
// consumes (speech-to-text, language generation, speech synthesis,
// embeddings) and the registry that resolves configured provider names to
// concrete implementations.
package providers

import (
	"context"
)

// Capability names a provider capability for registry lookups and logging.
type Capability string

const (
	CapabilitySpeechToText    Capability = "stt"
	CapabilityLanguageModel   Capability = "llm"
	CapabilitySpeechSynthesis Capability = "tts"
	CapabilityEmbedding       Capability = "embedding"
)

// ChatMessage is one turn of a generation prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt roles understood by generation providers.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// Transcription is the result of one speech-to-text invocation.
type Transcription struct {
	Text       string
	Confidence float64
	Language   string
}

// Completion is the result of one language-generation invocation.
type Completion struct {
	Content      string
	FinishReason string
	TotalTokens  int
}

// SynthesizedAudio is the result of one speech-synthesis invocation. Audio is
// always a 16-bit mono PCM WAV container.
type SynthesizedAudio struct {
	Audio      []byte
	SampleRate int
}

// TranscribeOptions carries per-call transcription parameters resolved from
// tenant configuration. Zero values fall back to provider defaults.
type TranscribeOptions struct {
	Model    string
	Language string
}

// GenerateOptions carries per-call generation parameters resolved from
// tenant configuration. Zero values fall back to provider defaults.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// SynthesizeOptions carries per-call synthesis parameters resolved from
// tenant configuration. Zero values fall back to provider defaults.
type SynthesizeOptions struct {
	Model string
	Voice string
}

// SpeechToText transcribes a complete utterance. Audio is a WAV container at
// the inference sample rate.
type SpeechToText interface {
	Name() string
	Transcribe(ctx context.Context, wavAudio []byte, opts TranscribeOptions) (*Transcription, error)
	HealthCheck(ctx context.Context) error
}

// LanguageModel generates the agent's next response from a prompt.
type LanguageModel interface {
	Name() string
	Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error)
	HealthCheck(ctx context.Context) error
}

// SpeechSynthesizer converts response text to audio.
type SpeechSynthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesizedAudio, error)
	HealthCheck(ctx context.Context) error
}

// Embedder computes embedding vectors for text, used by the knowledge
// retrieval collaborator.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	HealthCheck(ctx context.Context) error
}
