package providers

import (
	"context"
	"sync/atomic"

	"voiceagent-server/pkg/media"
)

// MockSpeechToText is a scriptable speech-to-text provider for testing.
type MockSpeechToText struct {
	ProviderName   string
	Text           string
	Err            error
	TranscribeFunc func(ctx context.Context, wavAudio []byte, opts TranscribeOptions) (*Transcription, error)

	calls atomic.Int64
}

// Name returns the provider name.
func (m *MockSpeechToText) Name() string {
	if m.ProviderName == "" {
		return "mock-stt"
	}
	return m.ProviderName
}

// Transcribe returns the scripted transcription or error.
func (m *MockSpeechToText) Transcribe(ctx context.Context, wavAudio []byte, opts TranscribeOptions) (*Transcription, error) {
	m.calls.Add(1)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, wavAudio, opts)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &Transcription{Text: m.Text}, nil
}

// HealthCheck reports the scripted error state.
func (m *MockSpeechToText) HealthCheck(ctx context.Context) error {
	return m.Err
}

// Calls returns the number of Transcribe invocations.
func (m *MockSpeechToText) Calls() int {
	return int(m.calls.Load())
}

// MockLanguageModel is a scriptable language-model provider for testing.
type MockLanguageModel struct {
	ProviderName string
	Response     string
	Err          error
	GenerateFunc func(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error)

	calls        atomic.Int64
	lastMessages []ChatMessage
}

// Name returns the provider name.
func (m *MockLanguageModel) Name() string {
	if m.ProviderName == "" {
		return "mock-llm"
	}
	return m.ProviderName
}

// Generate returns the scripted completion or error.
func (m *MockLanguageModel) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	m.calls.Add(1)
	m.lastMessages = messages
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, messages, opts)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &Completion{Content: m.Response, FinishReason: "stop"}, nil
}

// HealthCheck reports the scripted error state.
func (m *MockLanguageModel) HealthCheck(ctx context.Context) error {
	return m.Err
}

// Calls returns the number of Generate invocations.
func (m *MockLanguageModel) Calls() int {
	return int(m.calls.Load())
}

// LastMessages returns the prompt from the most recent Generate call.
func (m *MockLanguageModel) LastMessages() []ChatMessage {
	return m.lastMessages
}

// MockSpeechSynthesizer is a scriptable speech-synthesis provider for testing.
// Unless overridden it returns one second of silent 16 kHz WAV audio.
type MockSpeechSynthesizer struct {
	ProviderName   string
	Audio          []byte
	Err            error
	SynthesizeFunc func(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesizedAudio, error)

	calls atomic.Int64
}

// Name returns the provider name.
func (m *MockSpeechSynthesizer) Name() string {
	if m.ProviderName == "" {
		return "mock-tts"
	}
	return m.ProviderName
}

// Synthesize returns the scripted audio or error.
func (m *MockSpeechSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesizedAudio, error) {
	m.calls.Add(1)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, opts)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	audio := m.Audio
	if audio == nil {
		audio = media.PCMToWAV(make([]byte, media.InferenceRate*2), media.InferenceRate)
	}
	return &SynthesizedAudio{Audio: audio, SampleRate: media.InferenceRate}, nil
}

// HealthCheck reports the scripted error state.
func (m *MockSpeechSynthesizer) HealthCheck(ctx context.Context) error {
	return m.Err
}

// Calls returns the number of Synthesize invocations.
func (m *MockSpeechSynthesizer) Calls() int {
	return int(m.calls.Load())
}

// MockEmbedder is a scriptable embedding provider for testing.
type MockEmbedder struct {
	ProviderName string
	Dimensions   int
	Err          error

	calls atomic.Int64
}

// Name returns the provider name.
func (m *MockEmbedder) Name() string {
	if m.ProviderName == "" {
		return "mock-embedder"
	}
	return m.ProviderName
}

// Embed returns deterministic vectors of the configured dimensionality.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	dims := m.Dimensions
	if dims == 0 {
		dims = 8
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = float32(len(texts[i])%7) / float32(j+1)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// HealthCheck reports the scripted error state.
func (m *MockEmbedder) HealthCheck(ctx context.Context) error {
	return m.Err
}

// Calls returns the number of Embed invocations.
func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}
