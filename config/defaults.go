package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent:         DefaultAgentConfig(),
		Project:       ProjectConfig{},
		Relay:         DefaultRelayConfig(),
		Signer:        DefaultSignerConfig(),
		Conversations: DefaultConversationsConfig(),
		Database:      DefaultDatabaseConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
	}
}

// DefaultAgentConfig returns the default agent identity settings.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Slug: "agent",
	}
}

// DefaultRelayConfig returns the default relay client settings.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:            "ws://localhost:7447",
		PublishTimeout: 10 * time.Second,
		PublishRate:    10,
		PublishBurst:   20,
	}
}

// DefaultSignerConfig returns the default signing settings.
func DefaultSignerConfig() SignerConfig {
	return SignerConfig{
		Timeout: 15 * time.Second,
	}
}

// DefaultConversationsConfig returns the default conversation store
// settings.
func DefaultConversationsConfig() ConversationsConfig {
	return ConversationsConfig{
		Type: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "agentmesh:",
		},
	}
}

// DefaultDatabaseConfig returns the default project store settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path: "agentmesh.db",
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentmesh",
		SampleRate:   1.0,
	}
}
