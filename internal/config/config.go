package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configFile = "config.yaml"

// Load loads configuration from the locker directory, merged over
// defaults. A missing config file is not an error.
func Load(lockerDir string) (Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(lockerDir, configFile)
	if err := mergeConfigFile(&cfg, path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config validation: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// Path returns the config file path inside the locker directory.
func Path(lockerDir string) string {
	return filepath.Join(lockerDir, configFile)
}

// TTL returns the agent session duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.Agent.TTLHours) * time.Hour
}

// mergeConfigFile unmarshals a YAML file over cfg, so keys absent from
// the file keep their current (default) values.
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}
