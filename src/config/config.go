package config

import (
	"fmt"
	"os"

	"horizon-index/src/helpers"
	"horizon-index/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, helpers.NewConfigurationError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	idx := &c.Index
	if idx.BaseValue == 0 {
		idx.BaseValue = 1000
	}
	if idx.GraceMinutes == 0 {
		idx.GraceMinutes = 1
	}
	if idx.PollIntervalSeconds == 0 {
		idx.PollIntervalSeconds = 60
	}
	if idx.CalendarMIC == "" {
		idx.CalendarMIC = "xnys"
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Storage configuration
	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent requests must be greater than 0")
	}

	// Validate Index configuration
	if c.Index.BaseDate == "" {
		return fmt.Errorf("index base date cannot be empty")
	}
	if c.Index.BaseValue <= 0 {
		return fmt.Errorf("index base value must be greater than 0")
	}
	if c.Index.CalculationHour < 0 || c.Index.CalculationHour > 23 {
		return fmt.Errorf("invalid calculation hour: %d", c.Index.CalculationHour)
	}
	if c.Index.CalculationMinute < 0 || c.Index.CalculationMinute > 59 {
		return fmt.Errorf("invalid calculation minute: %d", c.Index.CalculationMinute)
	}

	// Validate Constituents
	if len(c.Constituents) == 0 {
		return fmt.Errorf("at least one constituent must be configured")
	}
	seen := make(map[string]bool)
	for i, cc := range c.Constituents {
		if cc.Ticker == "" {
			return fmt.Errorf("constituent %d must have a ticker", i)
		}
		if seen[cc.Ticker] {
			return fmt.Errorf("duplicate constituent ticker: %s", cc.Ticker)
		}
		seen[cc.Ticker] = true
		if cc.FreeFloatFactor < 0 || cc.FreeFloatFactor > 1 {
			return fmt.Errorf("constituent %s: free float factor must be within [0, 1]", cc.Ticker)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
