package config

// Config represents the complete keylocker configuration
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
	Clipboard ClipboardConfig `yaml:"clipboard"`
}

// AgentConfig represents agent session configuration
type AgentConfig struct {
	// TTLHours is the fixed session duration. The agent stops when it
	// elapses regardless of activity.
	TTLHours int `yaml:"ttl_hours"`
	// AutoStart spawns an agent after a successful unlock so later
	// callers skip the passphrase.
	AutoStart bool `yaml:"auto_start"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ClipboardConfig represents clipboard behavior in the TUI
type ClipboardConfig struct {
	// ClearSeconds is how long a copied secret stays on the clipboard
	// before it is cleared. Zero disables clearing.
	ClearSeconds int `yaml:"clear_seconds"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}
