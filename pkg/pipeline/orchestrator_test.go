package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/knowledge"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/providers"
	"voiceagent-server/pkg/session"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testAgentConfig() *agent.Config {
	return &agent.Config{
		TenantID:            "tenant-1",
		STTProvider:         "stt-primary",
		FallbackSTTProvider: "stt-fallback",
		LLMProvider:         "llm-primary",
		FallbackLLMProvider: "llm-fallback",
		TTSProvider:         "tts-primary",
		FallbackTTSProvider: "tts-fallback",
		SystemPrompt:        "You are a helpful phone agent.",
		FillerMessage:       "Sorry, could you say that again?",
		HistoryWindow:       10,
	}
}

type pipelineFixture struct {
	orch        *Orchestrator
	store       *session.Store
	stt         *providers.MockSpeechToText
	sttFallback *providers.MockSpeechToText
	llm         *providers.MockLanguageModel
	llmFallback *providers.MockLanguageModel
	tts         *providers.MockSpeechSynthesizer
	ttsFallback *providers.MockSpeechSynthesizer
}

func newPipelineFixture(t *testing.T, cfg *agent.Config, retriever knowledge.Retriever) *pipelineFixture {
	t.Helper()

	logger := testLogger()
	f := &pipelineFixture{
		store:       session.NewStore(logger),
		stt:         &providers.MockSpeechToText{ProviderName: "stt-primary", Text: "hello there"},
		sttFallback: &providers.MockSpeechToText{ProviderName: "stt-fallback", Text: "hello from fallback"},
		llm:         &providers.MockLanguageModel{ProviderName: "llm-primary", Response: "Hi! How can I help?"},
		llmFallback: &providers.MockLanguageModel{ProviderName: "llm-fallback", Response: "Fallback says hi."},
		tts:         &providers.MockSpeechSynthesizer{ProviderName: "tts-primary"},
		ttsFallback: &providers.MockSpeechSynthesizer{ProviderName: "tts-fallback"},
	}

	registry := providers.NewRegistry(logger)
	registry.RegisterSpeechToText(f.stt)
	registry.RegisterSpeechToText(f.sttFallback)
	registry.RegisterLanguageModel(f.llm)
	registry.RegisterLanguageModel(f.llmFallback)
	registry.RegisterSpeechSynthesizer(f.tts)
	registry.RegisterSpeechSynthesizer(f.ttsFallback)

	configs := agent.NewStaticConfigService()
	configs.Put(cfg)

	f.orch = New(logger, f.store, configs, registry, retriever, Options{
		ProviderTimeout: time.Second,
	})

	_, err := f.store.Create("CA123", cfg.TenantID)
	require.NoError(t, err)
	require.NoError(t, f.orch.InitCall(context.Background(), "CA123", cfg.TenantID))
	return f
}

// Two seconds of silence in telephony format.
func testTelephonyAudio() []byte {
	pcm := make([]byte, 2*media.TelephonyRate*2)
	payload, _ := media.EncodePayload(pcm, "PCMU")
	return payload
}

func TestProcessHappyPath(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.Equal(t, "hello there", result.Transcript)
	assert.Equal(t, "Hi! How can I help?", result.ResponseText)
	assert.NotEmpty(t, result.ResponseAudio)
	assert.Empty(t, result.Flags)

	for _, stage := range []string{StageSTT, StageRAG, StageLLM, StageTTS} {
		_, ok := result.Breakdown[stage]
		assert.True(t, ok, "breakdown missing stage %s", stage)
	}

	// Both turns recorded
	sess, ok := f.store.Get("CA123")
	require.True(t, ok)
	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleCaller, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, session.RoleAgent, msgs[1].Role)
	assert.Equal(t, "Hi! How can I help?", msgs[1].Content)

	// Fallbacks untouched on success
	assert.Equal(t, 0, f.sttFallback.Calls())
	assert.Equal(t, 0, f.llmFallback.Calls())
	assert.Equal(t, 0, f.ttsFallback.Calls())
}

func TestProcessSTTFallbackSucceeds(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.stt.Err = errors.New("primary stt down")

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.Equal(t, "hello from fallback", result.Transcript)
	assert.False(t, result.HasFlag(FlagSTTError))
	assert.NotEmpty(t, result.ResponseAudio)
	assert.Equal(t, 1, f.sttFallback.Calls())
}

func TestProcessProviderTimeoutFallsBack(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.orch.opts.ProviderTimeout = 30 * time.Millisecond
	f.stt.TranscribeFunc = func(ctx context.Context, wavAudio []byte, opts providers.TranscribeOptions) (*providers.Transcription, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.Equal(t, "hello from fallback", result.Transcript)
	assert.False(t, result.HasFlag(FlagSTTError))
	assert.Equal(t, 1, f.sttFallback.Calls())
}

func TestProcessSTTDoubleFailure(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.stt.Err = errors.New("primary stt down")
	f.sttFallback.Err = errors.New("fallback stt down")

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.True(t, result.HasFlag(FlagSTTError))
	assert.True(t, result.HasFlag(FlagSilentResponse))
	assert.Empty(t, result.Transcript)
	assert.Empty(t, result.ResponseAudio)

	// No inference stages ran and nothing was recorded
	assert.Equal(t, 0, f.llm.Calls())
	sess, _ := f.store.Get("CA123")
	assert.Equal(t, 0, sess.Len())
}

func TestProcessEmptyTranscriptSkipsInference(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.stt.Text = "   "

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.True(t, result.HasFlag(FlagSilentResponse))
	assert.Equal(t, "Sorry, could you say that again?", result.ResponseText)
	assert.Empty(t, result.ResponseAudio)
	assert.Equal(t, 0, f.llm.Calls())
	assert.Equal(t, 0, f.tts.Calls())

	sess, _ := f.store.Get("CA123")
	assert.Equal(t, 0, sess.Len())
}

func TestProcessLLMDoubleFailureKeepsTranscript(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.llm.Err = errors.New("primary llm down")
	f.llmFallback.Err = errors.New("fallback llm down")

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.True(t, result.HasFlag(FlagLLMError))
	assert.Equal(t, "hello there", result.Transcript)
	assert.Empty(t, result.ResponseAudio)

	// The caller's turn survives the failed generation
	sess, _ := f.store.Get("CA123")
	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, session.RoleCaller, msgs[0].Role)
}

func TestProcessLLMFallbackClearsModelOverride(t *testing.T) {
	cfg := testAgentConfig()
	cfg.LLMModel = "tenant-specific-model"
	f := newPipelineFixture(t, cfg, nil)
	f.llm.Err = errors.New("primary llm down")

	var fallbackOpts providers.GenerateOptions
	f.llmFallback.GenerateFunc = func(ctx context.Context, messages []providers.ChatMessage, opts providers.GenerateOptions) (*providers.Completion, error) {
		fallbackOpts = opts
		return &providers.Completion{Content: "Fallback says hi."}, nil
	}

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.Equal(t, "Fallback says hi.", result.ResponseText)
	assert.Empty(t, fallbackOpts.Model)
}

func TestProcessEmptyGenerationSubstitutesFiller(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.llm.Response = "  "

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.Equal(t, "Sorry, could you say that again?", result.ResponseText)
	assert.NotEmpty(t, result.ResponseAudio)
}

func TestProcessTTSDoubleFailure(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.tts.Err = errors.New("primary tts down")
	f.ttsFallback.Err = errors.New("fallback tts down")

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.True(t, result.HasFlag(FlagTTSError))
	assert.Empty(t, result.ResponseAudio)
	assert.Equal(t, "Hi! How can I help?", result.ResponseText)

	// Text turns are recorded even when the voice is lost
	sess, _ := f.store.Get("CA123")
	assert.Equal(t, 2, sess.Len())
}

type failingRetriever struct{}

func (failingRetriever) Search(ctx context.Context, query, tenantID string, topK int) ([]knowledge.Passage, error) {
	return nil, errors.New("index unavailable")
}

type fixedRetriever struct {
	passages []knowledge.Passage
	query    string
}

func (r *fixedRetriever) Search(ctx context.Context, query, tenantID string, topK int) ([]knowledge.Passage, error) {
	r.query = query
	return r.passages, nil
}

func TestProcessRetrievalFailureDegrades(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RAGEnabled = true
	f := newPipelineFixture(t, cfg, failingRetriever{})

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.True(t, result.HasFlag(FlagNoContext))
	assert.Equal(t, "Hi! How can I help?", result.ResponseText)
	assert.NotEmpty(t, result.ResponseAudio)
}

func TestProcessRetrievedContextInPrompt(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RAGEnabled = true
	retriever := &fixedRetriever{passages: []knowledge.Passage{
		{Title: "Hours", Text: "Open 9 to 5 on weekdays.", Score: 0.9},
	}}
	f := newPipelineFixture(t, cfg, retriever)

	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	assert.False(t, result.HasFlag(FlagNoContext))
	assert.Equal(t, "hello there", retriever.query)

	msgs := f.llm.LastMessages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, providers.ChatRoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Open 9 to 5 on weekdays.")
}

func TestProcessPromptWindowMapsRoles(t *testing.T) {
	cfg := testAgentConfig()
	cfg.HistoryWindow = 4
	f := newPipelineFixture(t, cfg, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Append("CA123", session.RoleCaller, "caller turn"))
		require.NoError(t, f.store.Append("CA123", session.RoleAgent, "agent turn"))
	}

	f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")

	msgs := f.llm.LastMessages()
	// system + 4-message window + new transcript
	require.Len(t, msgs, 6)
	assert.Equal(t, providers.ChatRoleSystem, msgs[0].Role)
	assert.Equal(t, providers.ChatRoleUser, msgs[1].Role)
	assert.Equal(t, providers.ChatRoleAssistant, msgs[2].Role)
	assert.Equal(t, providers.ChatRoleUser, msgs[5].Role)
	assert.Equal(t, "hello there", msgs[5].Content)
}

func TestSynthesizeUtterance(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)

	audio, err := f.orch.SynthesizeUtterance(context.Background(), "Hello, thanks for calling!", "CA123", "tenant-1")
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	assert.Equal(t, 1, f.tts.Calls())
}

func TestSynthesizeUtteranceFallsBack(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.tts.Err = errors.New("primary tts down")

	audio, err := f.orch.SynthesizeUtterance(context.Background(), "Hello!", "CA123", "tenant-1")
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	assert.Equal(t, 1, f.ttsFallback.Calls())
}

func TestReleaseCallDropsState(t *testing.T) {
	f := newPipelineFixture(t, testAgentConfig(), nil)
	f.orch.ReleaseCall("CA123")

	// State is re-resolved transparently on the next invocation
	result := f.orch.Process(context.Background(), testTelephonyAudio(), "CA123", "tenant-1")
	assert.Equal(t, "hello there", result.Transcript)
}
