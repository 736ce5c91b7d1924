// Package agent defines the tenant-side collaborator contracts the call
// engine consumes: tenant resolution and per-tenant agent configuration.
// Tenant CRUD itself lives outside this process.
package agent

import (
	"context"
	"sync"

	"voiceagent-server/pkg/errors"
)

// Config is the per-tenant agent configuration resolved once per call at
// stream start and reused for every pipeline invocation within that call.
type Config struct {
	TenantID string

	STTProvider         string
	STTModel            string
	FallbackSTTProvider string

	LLMProvider         string
	LLMModel            string
	FallbackLLMProvider string

	TTSProvider         string
	TTSModel            string
	FallbackTTSProvider string
	VoiceID             string

	EmbeddingProvider string
	EmbeddingModel    string

	SystemPrompt    string
	GreetingMessage string
	FillerMessage   string

	Temperature float64
	MaxTokens   int
	TopP        float64

	RAGEnabled bool
	RAGTopK    int

	HistoryWindow int
}

// Resolver maps a call to its tenant. Implemented outside this core by the
// call-provisioning service; a static implementation ships for single-tenant
// deployments and tests.
type Resolver interface {
	ResolveTenant(ctx context.Context, callSID string) (string, error)
}

// ConfigService supplies agent configuration for a tenant.
type ConfigService interface {
	GetAgentConfig(ctx context.Context, tenantID string) (*Config, error)
}

// StaticResolver resolves every call to one fixed tenant.
type StaticResolver struct {
	TenantID string
}

// ResolveTenant implements Resolver.
func (r *StaticResolver) ResolveTenant(ctx context.Context, callSID string) (string, error) {
	if r.TenantID == "" {
		return "", errors.Wrap(errors.ErrTenantNotFound, "static resolver has no tenant configured",
			map[string]interface{}{"call_sid": callSID})
	}
	return r.TenantID, nil
}

// StaticConfigService serves a fixed set of tenant configurations from
// memory. Used for single-tenant deployments seeded from the environment,
// and in tests.
type StaticConfigService struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewStaticConfigService creates a config service seeded with the given
// tenant configurations.
func NewStaticConfigService(configs ...*Config) *StaticConfigService {
	svc := &StaticConfigService{configs: make(map[string]*Config)}
	for _, cfg := range configs {
		svc.configs[cfg.TenantID] = cfg
	}
	return svc
}

// GetAgentConfig implements ConfigService.
func (s *StaticConfigService) GetAgentConfig(ctx context.Context, tenantID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configs[tenantID]
	if !exists {
		return nil, errors.Wrap(errors.ErrTenantNotFound, "no agent configuration",
			map[string]interface{}{"tenant_id": tenantID})
	}

	copied := *cfg
	return &copied, nil
}

// Put adds or replaces a tenant configuration.
func (s *StaticConfigService) Put(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.TenantID] = cfg
}
