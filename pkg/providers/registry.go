package providers

import (
	"context"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/errors"
)

// Registry holds the registered providers for each capability. Providers are
// registered once at process start; calls resolve their provider set from the
// registry exactly once at stream start.
type Registry struct {
	logger    *logrus.Logger
	stt       map[string]SpeechToText
	llm       map[string]LanguageModel
	tts       map[string]SpeechSynthesizer
	embedders map[string]Embedder
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:    logger,
		stt:       make(map[string]SpeechToText),
		llm:       make(map[string]LanguageModel),
		tts:       make(map[string]SpeechSynthesizer),
		embedders: make(map[string]Embedder),
	}
}

// RegisterSpeechToText registers a speech-to-text provider.
func (r *Registry) RegisterSpeechToText(p SpeechToText) {
	r.stt[p.Name()] = p
	r.logger.WithField("provider", p.Name()).Info("Registered speech-to-text provider")
}

// RegisterLanguageModel registers a language-generation provider.
func (r *Registry) RegisterLanguageModel(p LanguageModel) {
	r.llm[p.Name()] = p
	r.logger.WithField("provider", p.Name()).Info("Registered language-model provider")
}

// RegisterSpeechSynthesizer registers a speech-synthesis provider.
func (r *Registry) RegisterSpeechSynthesizer(p SpeechSynthesizer) {
	r.tts[p.Name()] = p
	r.logger.WithField("provider", p.Name()).Info("Registered speech-synthesis provider")
}

// RegisterEmbedder registers an embedding provider.
func (r *Registry) RegisterEmbedder(p Embedder) {
	r.embedders[p.Name()] = p
	r.logger.WithField("provider", p.Name()).Info("Registered embedding provider")
}

// SpeechToText looks up a registered speech-to-text provider by name.
func (r *Registry) SpeechToText(name string) (SpeechToText, bool) {
	p, ok := r.stt[name]
	return p, ok
}

// LanguageModel looks up a registered language-model provider by name.
func (r *Registry) LanguageModel(name string) (LanguageModel, bool) {
	p, ok := r.llm[name]
	return p, ok
}

// SpeechSynthesizer looks up a registered speech-synthesis provider by name.
func (r *Registry) SpeechSynthesizer(name string) (SpeechSynthesizer, bool) {
	p, ok := r.tts[name]
	return p, ok
}

// Embedder looks up a registered embedding provider by name.
func (r *Registry) Embedder(name string) (Embedder, bool) {
	p, ok := r.embedders[name]
	return p, ok
}

// Set is the provider selection for one call: concrete primary and fallback
// implementations resolved from tenant configuration at stream start. The
// pipeline only ever sees these interface values, never provider names.
type Set struct {
	STT         SpeechToText
	FallbackSTT SpeechToText

	LLM         LanguageModel
	FallbackLLM LanguageModel

	TTS         SpeechSynthesizer
	FallbackTTS SpeechSynthesizer

	Embedder Embedder
}

// Resolve builds a call's provider set from its tenant configuration. A
// missing primary provider is an error; a missing fallback degrades to
// no-fallback with a warning, since the call can still proceed.
func (r *Registry) Resolve(cfg *agent.Config) (*Set, error) {
	set := &Set{}

	var ok bool
	if set.STT, ok = r.stt[cfg.STTProvider]; !ok {
		return nil, errors.Wrap(errors.ErrProviderNotFound, "speech-to-text provider",
			map[string]interface{}{"provider": cfg.STTProvider, "tenant_id": cfg.TenantID})
	}
	if set.LLM, ok = r.llm[cfg.LLMProvider]; !ok {
		return nil, errors.Wrap(errors.ErrProviderNotFound, "language-model provider",
			map[string]interface{}{"provider": cfg.LLMProvider, "tenant_id": cfg.TenantID})
	}
	if set.TTS, ok = r.tts[cfg.TTSProvider]; !ok {
		return nil, errors.Wrap(errors.ErrProviderNotFound, "speech-synthesis provider",
			map[string]interface{}{"provider": cfg.TTSProvider, "tenant_id": cfg.TenantID})
	}

	set.FallbackSTT = r.resolveFallbackSTT(cfg.FallbackSTTProvider, cfg.TenantID)
	set.FallbackLLM = r.resolveFallbackLLM(cfg.FallbackLLMProvider, cfg.TenantID)
	set.FallbackTTS = r.resolveFallbackTTS(cfg.FallbackTTSProvider, cfg.TenantID)

	if cfg.RAGEnabled && cfg.EmbeddingProvider != "" {
		if set.Embedder, ok = r.embedders[cfg.EmbeddingProvider]; !ok {
			r.logger.WithFields(logrus.Fields{
				"provider":  cfg.EmbeddingProvider,
				"tenant_id": cfg.TenantID,
			}).Warn("Embedding provider not registered; retrieval will be degraded")
		}
	}

	return set, nil
}

func (r *Registry) resolveFallbackSTT(name, tenantID string) SpeechToText {
	if name == "" {
		return nil
	}
	p, ok := r.stt[name]
	if !ok {
		r.warnMissingFallback(CapabilitySpeechToText, name, tenantID)
		return nil
	}
	return p
}

func (r *Registry) resolveFallbackLLM(name, tenantID string) LanguageModel {
	if name == "" {
		return nil
	}
	p, ok := r.llm[name]
	if !ok {
		r.warnMissingFallback(CapabilityLanguageModel, name, tenantID)
		return nil
	}
	return p
}

func (r *Registry) resolveFallbackTTS(name, tenantID string) SpeechSynthesizer {
	if name == "" {
		return nil
	}
	p, ok := r.tts[name]
	if !ok {
		r.warnMissingFallback(CapabilitySpeechSynthesis, name, tenantID)
		return nil
	}
	return p
}

func (r *Registry) warnMissingFallback(capability Capability, name, tenantID string) {
	r.logger.WithFields(logrus.Fields{
		"capability": string(capability),
		"provider":   name,
		"tenant_id":  tenantID,
	}).Warn("Configured fallback provider not registered; continuing without fallback")
}

// HealthStatus probes every registered provider and reports "ok" or the
// probe error per capability/name pair.
func (r *Registry) HealthStatus(ctx context.Context) map[string]string {
	status := make(map[string]string)
	record := func(capability Capability, name string, err error) {
		key := string(capability) + "/" + name
		if err != nil {
			status[key] = err.Error()
			return
		}
		status[key] = "ok"
	}

	for name, p := range r.stt {
		record(CapabilitySpeechToText, name, p.HealthCheck(ctx))
	}
	for name, p := range r.llm {
		record(CapabilityLanguageModel, name, p.HealthCheck(ctx))
	}
	for name, p := range r.tts {
		record(CapabilitySpeechSynthesis, name, p.HealthCheck(ctx))
	}
	for name, p := range r.embedders {
		record(CapabilityEmbedding, name, p.HealthCheck(ctx))
	}
	return status
}
