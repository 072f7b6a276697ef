package config

import "fmt"

// Validate checks if the configuration is valid
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateClipboard()...)

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if c.Agent.TTLHours < 1 || c.Agent.TTLHours > 24*7 {
		errors = append(errors, ValidationError{
			Path:    "agent.ttl_hours",
			Message: fmt.Sprintf("must be between 1 and 168, got %d", c.Agent.TTLHours),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	validLevels := []string{"debug", "info", "warn", "error"}
	if contains(validLevels, c.Logging.Level) {
		return nil
	}

	return []ValidationError{{
		Path:    "logging.level",
		Message: fmt.Sprintf("must be one of %v, got '%s'", validLevels, c.Logging.Level),
	}}
}

func (c *Config) validateClipboard() []ValidationError {
	if c.Clipboard.ClearSeconds >= 0 {
		return nil
	}

	return []ValidationError{{
		Path:    "clipboard.clear_seconds",
		Message: fmt.Sprintf("must be non-negative, got %d", c.Clipboard.ClearSeconds),
	}}
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
