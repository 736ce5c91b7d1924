package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/version"
)

const (
	groqTranscriptionURL = "https://api.groq.com/openai/v1/audio/transcriptions"
	groqChatURL          = "https://api.groq.com/openai/v1/chat/completions"
	groqModelsURL        = "https://api.groq.com/openai/v1/models"

	defaultGroqWhisperModel = "whisper-large-v3-turbo"
	defaultGroqChatModel    = "llama-3.3-70b-versatile"
)

// GroqWhisper implements the SpeechToText capability against Groq's
// OpenAI-compatible Whisper endpoint.
type GroqWhisper struct {
	logger *logrus.Logger
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

// NewGroqWhisper creates a Groq Whisper speech-to-text provider.
func NewGroqWhisper(logger *logrus.Logger, apiKey string) *GroqWhisper {
	return &GroqWhisper{
		logger: logger,
		apiKey: apiKey,
		apiURL: groqTranscriptionURL,
		model:  defaultGroqWhisperModel,
		client: &http.Client{},
	}
}

// Name returns the provider name.
func (p *GroqWhisper) Name() string {
	return "groq"
}

// Transcribe uploads WAV audio and returns the transcription.
func (p *GroqWhisper) Transcribe(ctx context.Context, wavAudio []byte, opts TranscribeOptions) (*Transcription, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart request: %w", err)
	}
	if _, err := part.Write(wavAudio); err != nil {
		return nil, fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if opts.Language != "" {
		if err := writer.WriteField("language", opts.Language); err != nil {
			return nil, fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create Groq transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Groq transcription API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Groq transcription API returned status %d: %s", resp.StatusCode, detail)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode Groq transcription response: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"provider": p.Name(),
		"model":    model,
		"chars":    len(result.Text),
	}).Debug("Transcription received")

	return &Transcription{Text: result.Text}, nil
}

// HealthCheck probes the Groq API with a lightweight models request.
func (p *GroqWhisper) HealthCheck(ctx context.Context) error {
	return checkOpenAICompatible(ctx, p.client, groqModelsURL, p.apiKey)
}

// GroqChat implements the LanguageModel capability against Groq's
// OpenAI-compatible chat completions endpoint.
type GroqChat struct {
	logger *logrus.Logger
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

// NewGroqChat creates a Groq language-model provider.
func NewGroqChat(logger *logrus.Logger, apiKey string) *GroqChat {
	return &GroqChat{
		logger: logger,
		apiKey: apiKey,
		apiURL: groqChatURL,
		model:  defaultGroqChatModel,
		client: &http.Client{},
	}
}

// Name returns the provider name.
func (p *GroqChat) Name() string {
	return "groq"
}

// Generate requests a chat completion for the given messages.
func (p *GroqChat) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	return openAICompatibleGenerate(ctx, p.client, p.apiURL, p.apiKey, p.model, messages, opts)
}

// HealthCheck probes the Groq API with a lightweight models request.
func (p *GroqChat) HealthCheck(ctx context.Context) error {
	return checkOpenAICompatible(ctx, p.client, groqModelsURL, p.apiKey)
}

// openAICompatibleGenerate issues a chat-completions request in the shape
// shared by Groq and OpenAI.
func openAICompatibleGenerate(ctx context.Context, client *http.Client, apiURL, apiKey, defaultModel string, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	model := defaultModel
	if opts.Model != "" {
		model = opts.Model
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if opts.TopP > 0 {
		payload["top_p"] = opts.TopP
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat completions API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat completions API returned status %d: %s", resp.StatusCode, detail)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("chat completions API returned no choices")
	}

	return &Completion{
		Content:      result.Choices[0].Message.Content,
		FinishReason: result.Choices[0].FinishReason,
		TotalTokens:  result.Usage.TotalTokens,
	}, nil
}

func checkOpenAICompatible(ctx context.Context, client *http.Client, modelsURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
