package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/version"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	defaultGeminiEmbedModel = "text-embedding-004"
)

// GeminiEmbeddings implements the Embedder capability against Google's
// Gemini batch embedding endpoint.
type GeminiEmbeddings struct {
	logger  *logrus.Logger
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewGeminiEmbeddings creates a Gemini embedding provider.
func NewGeminiEmbeddings(logger *logrus.Logger, apiKey string) *GeminiEmbeddings {
	return &GeminiEmbeddings{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		model:   defaultGeminiEmbedModel,
		client:  &http.Client{},
	}
}

// Name returns the provider name.
func (p *GeminiEmbeddings) Name() string {
	return "gemini"
}

// Embed computes embedding vectors for a batch of texts.
func (p *GeminiEmbeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Parts []part `json:"parts"`
	}
	type embedRequest struct {
		Model   string  `json:"model"`
		Content content `json:"content"`
	}

	requests := make([]embedRequest, len(texts))
	for i, text := range texts {
		requests[i] = embedRequest{
			Model:   "models/" + p.model,
			Content: content{Parts: []part{{Text: text}}},
		}
	}

	body, err := json.Marshal(map[string]interface{}{"requests": requests})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Gemini embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Gemini embedding API returned status %d: %s", resp.StatusCode, detail)
	}

	var result struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode Gemini embedding response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("Gemini returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}

	p.logger.WithFields(logrus.Fields{
		"provider": p.Name(),
		"model":    p.model,
		"count":    len(vectors),
	}).Debug("Embeddings received")

	return vectors, nil
}

// HealthCheck probes the Gemini API by fetching the embedding model's
// metadata.
func (p *GeminiEmbeddings) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.client.Do(req)
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
