package utils

import (
	"fmt"
	"os"
	"strings"

	"hybrid-ids/internal/model"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "configs/hybrid_ids.yaml"

// LoadConfig reads filename on top of the defaults, so a file only needs
// the keys it changes.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigPath
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Application.WindowSeconds <= 0 {
		return fmt.Errorf("application.window_seconds must be positive, got %d", c.Application.WindowSeconds)
	}
	if c.Application.EventLimit < 0 {
		return fmt.Errorf("application.event_limit cannot be negative")
	}
	if c.Application.MetricsPort == "" {
		c.Application.MetricsPort = "8080"
	}

	switch c.Source.Type {
	case "":
		c.Source.Type = SourceTypePcap
	case SourceTypePcap, SourceTypeHubble, SourceTypeJSONL:
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}
	if c.Source.HubbleServer == "" {
		c.Source.HubbleServer = "localhost:4245"
	}

	if c.Anomaly.Contamination < 0 || c.Anomaly.Contamination > 0.5 {
		return fmt.Errorf("anomaly.contamination must be in (0, 0.5], got %v", c.Anomaly.Contamination)
	}
	if c.Anomaly.Contamination == 0 {
		c.Anomaly.Contamination = 0.05
	}
	if c.Anomaly.MinTrainingFlows <= 0 {
		c.Anomaly.MinTrainingFlows = 10
	}
	if c.Anomaly.NEstimators <= 0 {
		c.Anomaly.NEstimators = 100
	}
	if c.Anomaly.RandomSeed == 0 {
		c.Anomaly.RandomSeed = 42
	}
	if c.Anomaly.ModelDir == "" {
		c.Anomaly.ModelDir = "models"
	}

	switch strings.ToLower(c.Storage.Type) {
	case "":
		c.Storage.Type = StorageTypeMemory
	case StorageTypeMemory, StorageTypePostgres:
		c.Storage.Type = strings.ToLower(c.Storage.Type)
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == StorageTypePostgres && c.Storage.Postgres.URL == "" {
		return fmt.Errorf("storage.postgres.url cannot be empty")
	}

	if c.Alerting.Channels.Telegram && (c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "") {
		return fmt.Errorf("telegram channel needs bot_token and chat_id")
	}
	if c.Alerting.NATS.Subject == "" {
		c.Alerting.NATS.Subject = "ids.alerts"
	}

	for _, rule := range c.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule without a name")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.API.Port == "" {
		c.API.Port = "5001"
	}

	return nil
}

// GetRuleConfigByName returns the configured rule with that name.
func (c *Config) GetRuleConfigByName(name string) (*model.Rule, bool) {
	for i := range c.Rules {
		if c.Rules[i].Name == name {
			return &c.Rules[i], true
		}
	}
	return nil, false
}

func (c *Config) IsRuleEnabled(name string) bool {
	rule, exists := c.GetRuleConfigByName(name)
	return exists && rule.Enabled
}
