package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/version"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	elevenLabsUserPath = "/user"

	defaultElevenLabsModel = "eleven_turbo_v2_5"
	defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"
)

// ElevenLabs implements the SpeechSynthesizer capability. Audio is requested
// as raw 16 kHz PCM and wrapped in a WAV container so every synthesizer
// returns the same shape.
type ElevenLabs struct {
	logger  *logrus.Logger
	apiKey  string
	baseURL string
	model   string
	voice   string
	client  *http.Client
}

// NewElevenLabs creates an ElevenLabs speech-synthesis provider.
func NewElevenLabs(logger *logrus.Logger, apiKey string) *ElevenLabs {
	return &ElevenLabs{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		model:   defaultElevenLabsModel,
		voice:   defaultElevenLabsVoice,
		client:  &http.Client{},
	}
}

// Name returns the provider name.
func (p *ElevenLabs) Name() string {
	return "elevenlabs"
}

// Synthesize converts text to 16 kHz WAV audio.
func (p *ElevenLabs) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesizedAudio, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	voice := p.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}

	payload := map[string]interface{}{
		"text":     text,
		"model_id": model,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=pcm_16000", p.baseURL, voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ElevenLabs API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ElevenLabs API returned status %d: %s", resp.StatusCode, detail)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ElevenLabs audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("ElevenLabs returned empty audio")
	}

	p.logger.WithFields(logrus.Fields{
		"provider": p.Name(),
		"voice":    voice,
		"bytes":    len(pcm),
	}).Debug("Synthesis received")

	return &SynthesizedAudio{
		Audio:      media.PCMToWAV(pcm, media.InferenceRate),
		SampleRate: media.InferenceRate,
	}, nil
}

// HealthCheck probes the ElevenLabs API with a lightweight user request.
func (p *ElevenLabs) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+elevenLabsUserPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

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
