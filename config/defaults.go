// =============================================================================
// 📦 agentrt 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Scheduler: DefaultSchedulerConfig(),
		Mailbox:   DefaultMailboxConfig(),
		Agent:     DefaultAgentConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultSchedulerConfig 返回默认调度器配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrent:    10,
		CapPollInterval:  100 * time.Millisecond,
		QueueWaitTimeout: 1 * time.Second,
		ErrorBackoff:     1 * time.Second,
	}
}

// DefaultMailboxConfig 返回默认邮箱配置
func DefaultMailboxConfig() MailboxConfig {
	return MailboxConfig{
		Capacity:     100,
		HistoryLimit: 10000,
	}
}

// DefaultAgentConfig 返回默认 Agent 运行参数
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MessagePollTimeout:   1 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ErrorBackoff:         1 * time.Second,
		GenericWorkDuration:  1 * time.Second,
		AnalysisWorkDuration: 2 * time.Second,
	}
}

// DefaultServerConfig 返回默认观测端点配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":9091",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
		StatusInterval:  10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentrt",
		SampleRate:   0.1,
	}
}
