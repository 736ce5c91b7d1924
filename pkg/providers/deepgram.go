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
	deepgramListenURL   = "https://api.deepgram.com/v1/listen"
	deepgramProjectsURL = "https://api.deepgram.com/v1/projects"

	defaultDeepgramModel = "nova-2"
)

// Deepgram implements the SpeechToText capability against Deepgram's
// prerecorded transcription endpoint. Batch-per-utterance fits the flush
// model; no streaming connection is held between flushes.
type Deepgram struct {
	logger *logrus.Logger
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

// NewDeepgram creates a Deepgram speech-to-text provider.
func NewDeepgram(logger *logrus.Logger, apiKey string) *Deepgram {
	return &Deepgram{
		logger: logger,
		apiKey: apiKey,
		apiURL: deepgramListenURL,
		model:  defaultDeepgramModel,
		client: &http.Client{},
	}
}

// Name returns the provider name.
func (p *Deepgram) Name() string {
	return "deepgram"
}

// Transcribe posts WAV audio to Deepgram and returns the top alternative.
func (p *Deepgram) Transcribe(ctx context.Context, wavAudio []byte, opts TranscribeOptions) (*Transcription, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	url := fmt.Sprintf("%s?model=%s&smart_format=true", p.apiURL, model)
	if opts.Language != "" {
		url += "&language=" + opts.Language
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wavAudio))
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Deepgram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Deepgram API returned status %d: %s", resp.StatusCode, detail)
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode Deepgram response: %w", err)
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("Deepgram response contained no transcription alternatives")
	}

	alt := result.Results.Channels[0].Alternatives[0]
	p.logger.WithFields(logrus.Fields{
		"provider":   p.Name(),
		"model":      model,
		"confidence": alt.Confidence,
		"chars":      len(alt.Transcript),
	}).Debug("Transcription received")

	return &Transcription{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
	}, nil
}

// HealthCheck probes the Deepgram API with a lightweight projects request.
func (p *Deepgram) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deepgramProjectsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)

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
