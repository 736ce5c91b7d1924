// Package pipeline drives one voice-pipeline invocation end to end:
// audio conversion, transcription, optional knowledge retrieval, response
// generation, and speech synthesis, with per-stage fallback and latency
// accounting.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/knowledge"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/providers"
	"voiceagent-server/pkg/session"
)

// defaultFillerResponse is spoken when generation produces nothing usable.
const defaultFillerResponse = "I'm sorry, I didn't understand that. Could you please repeat?"

// Options configures an Orchestrator.
type Options struct {
	// ProviderTimeout bounds each provider invocation. Exceeding it is
	// treated identically to a provider failure.
	ProviderTimeout time.Duration

	// HistoryWindow is the default working-window size used when a tenant's
	// configuration does not set one.
	HistoryWindow int
}

// callState is the per-call cache: tenant configuration and the provider set
// resolved from it, both fixed at stream start.
type callState struct {
	config *agent.Config
	set    *providers.Set
}

// Orchestrator runs the voice pipeline. One instance serves the whole
// process and is injected into every call handler.
type Orchestrator struct {
	logger    *logrus.Logger
	store     *session.Store
	configs   agent.ConfigService
	registry  *providers.Registry
	retriever knowledge.Retriever
	opts      Options

	mu    sync.Mutex
	calls map[string]*callState
}

// New creates an Orchestrator. retriever may be nil when no knowledge base
// is attached; retrieval then degrades exactly like a retrieval failure.
func New(logger *logrus.Logger, store *session.Store, configs agent.ConfigService, registry *providers.Registry, retriever knowledge.Retriever, opts Options) *Orchestrator {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	return &Orchestrator{
		logger:    logger,
		store:     store,
		configs:   configs,
		registry:  registry,
		retriever: retriever,
		opts:      opts,
		calls:     make(map[string]*callState),
	}
}

// InitCall resolves the tenant's agent configuration and provider set for a
// new call and caches them for every invocation within that call.
func (o *Orchestrator) InitCall(ctx context.Context, callSID, tenantID string) error {
	_, err := o.stateFor(ctx, callSID, tenantID)
	return err
}

// ReleaseCall drops the cached per-call state.
func (o *Orchestrator) ReleaseCall(callSID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.calls, callSID)
}

func (o *Orchestrator) stateFor(ctx context.Context, callSID, tenantID string) (*callState, error) {
	o.mu.Lock()
	if st, ok := o.calls[callSID]; ok {
		o.mu.Unlock()
		return st, nil
	}
	o.mu.Unlock()

	cfg, err := o.configs.GetAgentConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	set, err := o.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	st := &callState{config: cfg, set: set}
	o.mu.Lock()
	o.calls[callSID] = st
	o.mu.Unlock()
	return st, nil
}

// Process runs one full pipeline invocation over buffered telephony audio.
// It never returns an error: every failure is folded into the Result so a
// single bad flush can never tear down the call.
func (o *Orchestrator) Process(ctx context.Context, audio []byte, callSID, tenantID string) *Result {
	start := time.Now()
	result := newResult()
	metrics.PipelineInvocations.Inc()

	log := o.logger.WithFields(logrus.Fields{
		"call_sid":  callSID,
		"tenant_id": tenantID,
	})

	defer func() {
		result.LatencyMs = time.Since(start).Milliseconds()
		metrics.PipelineLatency.WithLabelValues("total").Observe(float64(result.LatencyMs))
		for _, flag := range result.Flags {
			metrics.DegradedResults.WithLabelValues(flag).Inc()
		}
		log.WithFields(logrus.Fields{
			"latency_ms": result.LatencyMs,
			"stt_ms":     result.Breakdown[StageSTT],
			"rag_ms":     result.Breakdown[StageRAG],
			"llm_ms":     result.Breakdown[StageLLM],
			"tts_ms":     result.Breakdown[StageTTS],
			"flags":      result.Flags,
		}).Info("Pipeline invocation completed")
	}()

	st, err := o.stateFor(ctx, callSID, tenantID)
	if err != nil {
		log.WithError(err).Error("Failed to resolve call configuration")
		result.addFlag(FlagSilentResponse)
		return result
	}

	// Telephony audio to transcription format
	wavAudio, err := media.TelephonyToInference(audio)
	if err != nil {
		log.WithError(err).Error("Failed to convert buffered audio")
		metrics.StageErrors.WithLabelValues(StageSTT).Inc()
		result.addFlag(FlagSTTError)
		result.addFlag(FlagSilentResponse)
		return result
	}

	// Transcription, primary then fallback
	transcript, ok := o.transcribe(ctx, st, wavAudio, result, log)
	if !ok {
		return result
	}
	result.Transcript = transcript

	if strings.TrimSpace(transcript) == "" {
		// Nothing intelligible was said; skip retrieval, generation and
		// synthesis entirely and hand back a filler the handler may choose
		// to speak.
		log.Debug("Empty transcript, skipping inference stages")
		result.ResponseText = o.fillerFor(st.config)
		result.addFlag(FlagSilentResponse)
		return result
	}

	// Knowledge retrieval; failures degrade, never abort
	ragContext := o.retrieve(ctx, st, transcript, tenantID, result, log)

	// Prompt assembly from system prompt, retrieved context, working window
	// and the new transcript
	messages := o.buildPrompt(st.config, callSID, ragContext, transcript)

	// Generation, primary then fallback
	responseText, ok := o.generate(ctx, st, messages, result, log)
	if !ok {
		// Failed turns are still part of the transcript
		o.appendMessage(callSID, session.RoleCaller, transcript, log)
		return result
	}
	if strings.TrimSpace(responseText) == "" {
		log.Warn("Generation returned empty response, substituting filler")
		responseText = o.fillerFor(st.config)
	}
	result.ResponseText = responseText

	// Synthesis, primary then fallback
	audioOut, ok := o.synthesize(ctx, st, responseText, result, log)
	if ok {
		result.ResponseAudio = audioOut
	}

	o.appendMessage(callSID, session.RoleCaller, transcript, log)
	o.appendMessage(callSID, session.RoleAgent, responseText, log)

	return result
}

// GreetingFor returns the tenant's configured greeting for a call, or empty
// when none is set or the call state cannot be resolved.
func (o *Orchestrator) GreetingFor(ctx context.Context, callSID, tenantID string) string {
	st, err := o.stateFor(ctx, callSID, tenantID)
	if err != nil {
		return ""
	}
	return st.config.GreetingMessage
}

// SynthesizeUtterance converts standalone agent text (greetings, spoken error
// prompts) to telephony audio using the call's synthesis providers.
func (o *Orchestrator) SynthesizeUtterance(ctx context.Context, text, callSID, tenantID string) ([]byte, error) {
	st, err := o.stateFor(ctx, callSID, tenantID)
	if err != nil {
		return nil, err
	}

	log := o.logger.WithFields(logrus.Fields{
		"call_sid":  callSID,
		"tenant_id": tenantID,
	})

	synth, err := o.invokeTTS(ctx, st, text, log)
	if err != nil {
		return nil, err
	}

	return media.InferenceToTelephony(synth.Audio)
}

func (o *Orchestrator) transcribe(ctx context.Context, st *callState, wavAudio []byte, result *Result, log *logrus.Entry) (string, bool) {
	stageStart := time.Now()
	defer func() {
		ms := time.Since(stageStart).Milliseconds()
		result.Breakdown[StageSTT] = ms
		metrics.PipelineLatency.WithLabelValues(StageSTT).Observe(float64(ms))
	}()

	opts := providers.TranscribeOptions{Model: st.config.STTModel}

	tr, err := invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) (*providers.Transcription, error) {
		return st.set.STT.Transcribe(ctx, wavAudio, opts)
	})
	if err == nil {
		return tr.Text, true
	}

	log.WithError(err).WithField("provider", st.set.STT.Name()).Error("Transcription failed")

	if st.set.FallbackSTT != nil {
		metrics.ProviderFallbacks.WithLabelValues(string(providers.CapabilitySpeechToText)).Inc()
		// Tenant model overrides are provider-specific and must not leak
		// into the fallback request.
		tr, err = invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) (*providers.Transcription, error) {
			return st.set.FallbackSTT.Transcribe(ctx, wavAudio, providers.TranscribeOptions{})
		})
		if err == nil {
			return tr.Text, true
		}
		log.WithError(err).WithField("provider", st.set.FallbackSTT.Name()).Error("Fallback transcription failed")
	}

	metrics.StageErrors.WithLabelValues(StageSTT).Inc()
	result.addFlag(FlagSTTError)
	result.addFlag(FlagSilentResponse)
	return "", false
}

func (o *Orchestrator) retrieve(ctx context.Context, st *callState, query, tenantID string, result *Result, log *logrus.Entry) string {
	if !st.config.RAGEnabled {
		return ""
	}

	stageStart := time.Now()
	defer func() {
		ms := time.Since(stageStart).Milliseconds()
		result.Breakdown[StageRAG] = ms
		metrics.PipelineLatency.WithLabelValues(StageRAG).Observe(float64(ms))
	}()

	if o.retriever == nil {
		log.Warn("Retrieval enabled for tenant but no retriever attached, continuing without context")
		result.addFlag(FlagNoContext)
		return ""
	}

	topK := st.config.RAGTopK
	if topK <= 0 {
		topK = 5
	}

	passages, err := invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) ([]knowledge.Passage, error) {
		return o.retriever.Search(ctx, query, tenantID, topK)
	})
	if err != nil {
		log.WithError(err).Error("Knowledge retrieval failed, continuing without context")
		result.addFlag(FlagNoContext)
		return ""
	}

	return knowledge.BuildContext(passages)
}

func (o *Orchestrator) buildPrompt(cfg *agent.Config, callSID, ragContext, transcript string) []providers.ChatMessage {
	systemPrompt := cfg.SystemPrompt
	if ragContext != "" {
		systemPrompt = systemPrompt + "\n\n" + ragContext
	}

	messages := []providers.ChatMessage{
		{Role: providers.ChatRoleSystem, Content: systemPrompt},
	}

	window := cfg.HistoryWindow
	if window <= 0 {
		window = o.opts.HistoryWindow
	}

	if sess, ok := o.store.Get(callSID); ok {
		for _, msg := range sess.Window(window) {
			role := providers.ChatRoleUser
			if msg.Role == session.RoleAgent {
				role = providers.ChatRoleAssistant
			}
			messages = append(messages, providers.ChatMessage{Role: role, Content: msg.Content})
		}
	}

	return append(messages, providers.ChatMessage{Role: providers.ChatRoleUser, Content: transcript})
}

func (o *Orchestrator) generate(ctx context.Context, st *callState, messages []providers.ChatMessage, result *Result, log *logrus.Entry) (string, bool) {
	stageStart := time.Now()
	defer func() {
		ms := time.Since(stageStart).Milliseconds()
		result.Breakdown[StageLLM] = ms
		metrics.PipelineLatency.WithLabelValues(StageLLM).Observe(float64(ms))
	}()

	opts := providers.GenerateOptions{
		Model:       st.config.LLMModel,
		Temperature: st.config.Temperature,
		MaxTokens:   st.config.MaxTokens,
		TopP:        st.config.TopP,
	}

	completion, err := invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) (*providers.Completion, error) {
		return st.set.LLM.Generate(ctx, messages, opts)
	})
	if err == nil {
		return completion.Content, true
	}

	log.WithError(err).WithField("provider", st.set.LLM.Name()).Error("Generation failed")

	if st.set.FallbackLLM != nil {
		metrics.ProviderFallbacks.WithLabelValues(string(providers.CapabilityLanguageModel)).Inc()
		fallbackOpts := opts
		fallbackOpts.Model = ""
		completion, err = invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) (*providers.Completion, error) {
			return st.set.FallbackLLM.Generate(ctx, messages, fallbackOpts)
		})
		if err == nil {
			return completion.Content, true
		}
		log.WithError(err).WithField("provider", st.set.FallbackLLM.Name()).Error("Fallback generation failed")
	}

	metrics.StageErrors.WithLabelValues(StageLLM).Inc()
	result.addFlag(FlagLLMError)
	return "", false
}

func (o *Orchestrator) synthesize(ctx context.Context, st *callState, text string, result *Result, log *logrus.Entry) ([]byte, bool) {
	stageStart := time.Now()
	defer func() {
		ms := time.Since(stageStart).Milliseconds()
		result.Breakdown[StageTTS] = ms
		metrics.PipelineLatency.WithLabelValues(StageTTS).Observe(float64(ms))
	}()

	synth, err := o.invokeTTS(ctx, st, text, log)
	if err != nil {
		metrics.StageErrors.WithLabelValues(StageTTS).Inc()
		result.addFlag(FlagTTSError)
		return nil, false
	}

	telephony, err := media.InferenceToTelephony(synth.Audio)
	if err != nil {
		log.WithError(err).Error("Failed to convert synthesized audio to telephony format")
		metrics.StageErrors.WithLabelValues(StageTTS).Inc()
		result.addFlag(FlagTTSError)
		return nil, false
	}

	return telephony, true
}

func (o *Orchestrator) invokeTTS(ctx context.Context, st *callState, text string, log *logrus.Entry) (*providers.SynthesizedAudio, error) {
	opts := providers.SynthesizeOptions{
		Model: st.config.TTSModel,
		Voice: st.config.VoiceID,
	}

	synth, err := invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) (*providers.SynthesizedAudio, error) {
		return st.set.TTS.Synthesize(ctx, text, opts)
	})
	if err == nil {
		return synth, nil
	}

	log.WithError(err).WithField("provider", st.set.TTS.Name()).Error("Synthesis failed")

	if st.set.FallbackTTS != nil {
		metrics.ProviderFallbacks.WithLabelValues(string(providers.CapabilitySpeechSynthesis)).Inc()
		synth, err = invoke(ctx, o.opts.ProviderTimeout, func(ctx context.Context) (*providers.SynthesizedAudio, error) {
			return st.set.FallbackTTS.Synthesize(ctx, text, providers.SynthesizeOptions{})
		})
		if err == nil {
			return synth, nil
		}
		log.WithError(err).WithField("provider", st.set.FallbackTTS.Name()).Error("Fallback synthesis failed")
	}

	return nil, err
}

func (o *Orchestrator) appendMessage(callSID, role, content string, log *logrus.Entry) {
	if err := o.store.Append(callSID, role, content); err != nil {
		log.WithError(err).WithField("role", role).Error("Failed to append transcript message")
	}
}

func (o *Orchestrator) fillerFor(cfg *agent.Config) string {
	if cfg.FillerMessage != "" {
		return cfg.FillerMessage
	}
	return defaultFillerResponse
}

// invoke bounds one provider invocation by the configured timeout.
func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(tctx)
}
