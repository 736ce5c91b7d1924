package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/call"
	"voiceagent-server/pkg/config"
	"voiceagent-server/pkg/httpserver"
	"voiceagent-server/pkg/knowledge"
	"voiceagent-server/pkg/messaging"
	"voiceagent-server/pkg/pipeline"
	"voiceagent-server/pkg/providers"
	"voiceagent-server/pkg/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	applyLoggingConfig(logger, cfg.Logging)

	registry := buildRegistry(logger, cfg.Providers)
	store := session.NewStore(logger)
	configs := agent.NewStaticConfigService(agentConfigFrom(cfg))
	resolver := &agent.StaticResolver{TenantID: cfg.Agent.TenantID}

	var retriever knowledge.Retriever // knowledge index attaches here when one is deployed

	orchestrator := pipeline.New(logger, store, configs, registry, retriever, pipeline.Options{
		ProviderTimeout: cfg.Pipeline.ProviderTimeout,
		HistoryWindow:   cfg.Pipeline.HistoryWindow,
	})

	finalizer, amqpFinalizer := buildFinalizer(logger, cfg.Messaging)

	callCfg := call.Config{
		FrameDurationMs:  cfg.Audio.FrameDurationMs,
		FlushThresholdMs: cfg.Audio.FlushThresholdMs,
	}

	server := httpserver.NewServer(logger, cfg.HTTP, callCfg, orchestrator, store, resolver, finalizer, registry)
	server.Start()
	logger.Info("Voice agent server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	} else {
		logger.Info("HTTP server shut down successfully")
	}

	if amqpFinalizer != nil {
		amqpFinalizer.Disconnect()
	}

	logger.Info("Shutdown complete")
}

func applyLoggingConfig(logger *logrus.Logger, cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithField("level", cfg.Level).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// buildRegistry registers every provider that has credentials configured.
// Resolution against tenant configuration happens per call.
func buildRegistry(logger *logrus.Logger, cfg config.ProvidersConfig) *providers.Registry {
	registry := providers.NewRegistry(logger)

	if cfg.GroqAPIKey != "" {
		registry.RegisterSpeechToText(providers.NewGroqWhisper(logger, cfg.GroqAPIKey))
		registry.RegisterLanguageModel(providers.NewGroqChat(logger, cfg.GroqAPIKey))
	}
	if cfg.DeepgramAPIKey != "" {
		registry.RegisterSpeechToText(providers.NewDeepgram(logger, cfg.DeepgramAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		registry.RegisterLanguageModel(providers.NewOpenAIChat(logger, cfg.OpenAIAPIKey))
	}
	if cfg.ElevenLabsAPIKey != "" {
		registry.RegisterSpeechSynthesizer(providers.NewElevenLabs(logger, cfg.ElevenLabsAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		registry.RegisterEmbedder(providers.NewGeminiEmbeddings(logger, cfg.GeminiAPIKey))
	}

	return registry
}

// agentConfigFrom seeds the single-tenant agent configuration from the
// environment.
func agentConfigFrom(cfg *config.Config) *agent.Config {
	return &agent.Config{
		TenantID:            cfg.Agent.TenantID,
		STTProvider:         cfg.Providers.STTProvider,
		STTModel:            cfg.Providers.STTModel,
		FallbackSTTProvider: cfg.Providers.FallbackSTTProvider,
		LLMProvider:         cfg.Providers.LLMProvider,
		LLMModel:            cfg.Providers.LLMModel,
		FallbackLLMProvider: cfg.Providers.FallbackLLMProvider,
		TTSProvider:         cfg.Providers.TTSProvider,
		TTSModel:            cfg.Providers.TTSModel,
		FallbackTTSProvider: cfg.Providers.FallbackTTSProvider,
		VoiceID:             cfg.Providers.VoiceID,
		EmbeddingProvider:   cfg.Providers.EmbeddingProvider,
		EmbeddingModel:      cfg.Providers.EmbeddingModel,
		SystemPrompt:        cfg.Agent.SystemPrompt,
		GreetingMessage:     cfg.Agent.GreetingMessage,
		FillerMessage:       cfg.Agent.FillerMessage,
		Temperature:         cfg.Agent.Temperature,
		MaxTokens:           cfg.Agent.MaxTokens,
		RAGEnabled:          cfg.Agent.RAGEnabled,
		RAGTopK:             cfg.Agent.RAGTopK,
		HistoryWindow:       cfg.Pipeline.HistoryWindow,
	}
}

func buildFinalizer(logger *logrus.Logger, cfg config.MessagingConfig) (call.Finalizer, *messaging.AMQPFinalizer) {
	if !cfg.Enabled {
		return &call.LogFinalizer{Logger: logger}, nil
	}

	amqpFinalizer := messaging.NewAMQPFinalizer(logger, messaging.AMQPConfig{
		URL:       cfg.AMQPUrl,
		QueueName: cfg.Queue,
		Exchange:  cfg.Exchange,
		Durable:   cfg.Durable,
	})
	if err := amqpFinalizer.Connect(); err != nil {
		logger.WithError(err).Warn("AMQP connection failed at startup; call records will fail until reconnect")
	}
	return amqpFinalizer, amqpFinalizer
}
