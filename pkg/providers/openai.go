package providers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

const (
	openAIChatURL   = "https://api.openai.com/v1/chat/completions"
	openAIModelsURL = "https://api.openai.com/v1/models"

	defaultOpenAIChatModel = "gpt-4o-mini"
)

// OpenAIChat implements the LanguageModel capability against OpenAI's chat
// completions endpoint. Typically configured as the generation fallback.
type OpenAIChat struct {
	logger *logrus.Logger
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

// NewOpenAIChat creates an OpenAI language-model provider.
func NewOpenAIChat(logger *logrus.Logger, apiKey string) *OpenAIChat {
	return &OpenAIChat{
		logger: logger,
		apiKey: apiKey,
		apiURL: openAIChatURL,
		model:  defaultOpenAIChatModel,
		client: &http.Client{},
	}
}

// Name returns the provider name.
func (p *OpenAIChat) Name() string {
	return "openai"
}

// Generate requests a chat completion for the given messages.
func (p *OpenAIChat) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	return openAICompatibleGenerate(ctx, p.client, p.apiURL, p.apiKey, p.model, messages, opts)
}

// HealthCheck probes the OpenAI API with a lightweight models request.
func (p *OpenAIChat) HealthCheck(ctx context.Context) error {
	return checkOpenAICompatible(ctx, p.client, openAIModelsURL, p.apiKey)
}
