package config

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			TTLHours:  8,
			AutoStart: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Clipboard: ClipboardConfig{
			ClearSeconds: 30,
		},
	}
}
