package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/errors"
)

func TestStaticResolver(t *testing.T) {
	r := &StaticResolver{TenantID: "tenant-1"}

	tenantID, err := r.ResolveTenant(context.Background(), "CA123")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
}

func TestStaticResolverUnconfigured(t *testing.T) {
	r := &StaticResolver{}

	_, err := r.ResolveTenant(context.Background(), "CA123")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrTenantNotFound))
}

func TestStaticConfigService(t *testing.T) {
	svc := NewStaticConfigService(&Config{TenantID: "tenant-1", SystemPrompt: "be nice"})

	cfg, err := svc.GetAgentConfig(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "be nice", cfg.SystemPrompt)

	_, err = svc.GetAgentConfig(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrTenantNotFound))
}

func TestGetAgentConfigReturnsCopy(t *testing.T) {
	svc := NewStaticConfigService(&Config{TenantID: "tenant-1", SystemPrompt: "original"})

	cfg, err := svc.GetAgentConfig(context.Background(), "tenant-1")
	require.NoError(t, err)
	cfg.SystemPrompt = "mutated"

	again, err := svc.GetAgentConfig(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.SystemPrompt)
}

func TestPutReplaces(t *testing.T) {
	svc := NewStaticConfigService()
	svc.Put(&Config{TenantID: "tenant-1", GreetingMessage: "hi"})
	svc.Put(&Config{TenantID: "tenant-1", GreetingMessage: "hello"})

	cfg, err := svc.GetAgentConfig(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", cfg.GreetingMessage)
}
