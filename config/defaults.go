// =============================================================================
// 📦 LLM 网关默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Vault:     DefaultVaultConfig(),
		Auth:      DefaultAuthConfig(),
		Runtime:   DefaultRuntimeConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "gateway",
		Password:        "",
		Name:            "gateway",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultVaultConfig 返回默认凭据加密配置
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		EncryptionKey: "",
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		JWT:       DefaultJWTConfig(),
		SkipPaths: []string{"/api/llm/providers/presets", "/health", "/healthz", "/ready", "/readyz", "/metrics"},
	}
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{}
}

// DefaultRuntimeConfig 返回默认运行时超时配置，与超时表一致：
// 10s 探测 / 60s 嵌入与重排 / 120s 非流式 chat。
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ProbeTimeout:       10 * time.Second,
		EmbedRerankTimeout: 60 * time.Second,
		ChatTimeout:        120 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llm-gateway",
		SampleRate:   0.1,
	}
}
