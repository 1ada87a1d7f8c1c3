package config

import "time"

// Config holds client configuration values.
type Config struct {
	// APIBaseURL is the REST backend root, e.g. http://portal.local/api.
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	// SocketURL is the persistent-connection endpoint, e.g. ws://portal.local/ws.
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	SendAckTimeout    time.Duration `mapstructure:"send_ack_timeout" yaml:"send_ack_timeout"`
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit"`

	// SessionPath is the SQLite file holding the persisted session.
	SessionPath string `mapstructure:"session_path" yaml:"session_path"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIBaseURL:        "http://localhost:8080",
		SocketURL:         "ws://localhost:8080/ws",
		ReconnectAttempts: 10,
		ReconnectDelay:    time.Second,
		SendAckTimeout:    10 * time.Second,
		HistoryLimit:      50,
		SessionPath:       "ems-chat-session.db",
		LogLevel:          "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.SocketURL != "" {
		c.SocketURL = other.SocketURL
	}
	if other.ReconnectAttempts != 0 {
		c.ReconnectAttempts = other.ReconnectAttempts
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.SendAckTimeout != 0 {
		c.SendAckTimeout = other.SendAckTimeout
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.SessionPath != "" {
		c.SessionPath = other.SessionPath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
