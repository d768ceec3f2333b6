package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENTMESH_AGENT_SEED_HEX", testSeed)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "agent", cfg.Agent.Slug)
	assert.Equal(t, "ws://localhost:7447", cfg.Relay.URL)
	assert.Equal(t, 10*time.Second, cfg.Relay.PublishTimeout)
	assert.Equal(t, "memory", cfg.Conversations.Type)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFromYAMLFile(t *testing.T) {
	t.Setenv("AGENTMESH_AGENT_SEED_HEX", testSeed)

	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  slug: planner
relay:
  url: wss://relay.example.com
  publish_timeout: 5s
conversations:
  type: redis
  redis:
    addr: redis.internal:6379
project:
  id: proj-42
  escalation_agent_slug: triage
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "planner", cfg.Agent.Slug)
	assert.Equal(t, "wss://relay.example.com", cfg.Relay.URL)
	assert.Equal(t, 5*time.Second, cfg.Relay.PublishTimeout)
	assert.Equal(t, "redis", cfg.Conversations.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Conversations.Redis.Addr)
	assert.Equal(t, "triage", cfg.Project.EscalationAgentSlug)
	// Untouched values keep their defaults.
	assert.Equal(t, float64(10), cfg.Relay.PublishRate)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("AGENTMESH_AGENT_SEED_HEX", testSeed)
	t.Setenv("AGENTMESH_RELAY_URL", "wss://env-wins.example.com")
	t.Setenv("AGENTMESH_RELAY_PUBLISH_TIMEOUT", "3s")
	t.Setenv("AGENTMESH_TELEMETRY_ENABLED", "true")

	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  url: wss://file.example.com\n"), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://env-wins.example.com", cfg.Relay.URL)
	assert.Equal(t, 3*time.Second, cfg.Relay.PublishTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("AGENTMESH_AGENT_SEED_HEX", testSeed)

	cfg, err := NewLoader().WithConfigPath("/nonexistent/agentmesh.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:7447", cfg.Relay.URL)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing signer", func(c *Config) {}, "local seed or a remote signer"},
		{"missing slug", func(c *Config) { c.Agent.SeedHex = testSeed; c.Agent.Slug = "" }, "agent slug"},
		{"missing relay url", func(c *Config) { c.Agent.SeedHex = testSeed; c.Relay.URL = "" }, "relay url"},
		{"remote signer without pubkey", func(c *Config) { c.Signer.RemoteURL = "wss://sign.example.com" }, "pubkey"},
		{"bad store type", func(c *Config) { c.Agent.SeedHex = testSeed; c.Conversations.Type = "cassandra" }, "conversation store type"},
		{"bad sample rate", func(c *Config) { c.Agent.SeedHex = testSeed; c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCustomValidatorRuns(t *testing.T) {
	t.Setenv("AGENTMESH_AGENT_SEED_HEX", testSeed)

	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
