package utils

import (
	"hybrid-ids/internal/model"
)

// Config is the full configuration of the detector and the query API
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Source      SourceConfig      `yaml:"source"`
	Rules       []model.Rule      `yaml:"rules"`
	RulesFile   string            `yaml:"rules_file,omitempty"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	Storage     StorageConfig     `yaml:"storage"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
}

type ApplicationConfig struct {
	WindowSeconds int    `yaml:"window_seconds"`
	EventLimit    int    `yaml:"event_limit"`
	MetricsPort   string `yaml:"metrics_port"`
}

// Source types
const (
	SourceTypePcap   = "pcap"
	SourceTypeHubble = "hubble"
	SourceTypeJSONL  = "jsonl"
)

type SourceConfig struct {
	Type         string   `yaml:"type"`
	PcapPath     string   `yaml:"pcap_path"`
	EventsPath   string   `yaml:"events_path"`
	HubbleServer string   `yaml:"hubble_server"`
	Namespaces   []string `yaml:"namespaces"`
}

type AnomalyConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ModelDir         string  `yaml:"model_dir"`
	ModelFile        string  `yaml:"model_file"`
	ScalerFile       string  `yaml:"scaler_file"`
	MinTrainingFlows int     `yaml:"min_training_flows"`
	NEstimators      int     `yaml:"n_estimators"`
	Contamination    float64 `yaml:"contamination"`
	RandomSeed       int64   `yaml:"random_seed"`
}

// Storage types
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
)

type StorageConfig struct {
	Type       string           `yaml:"type"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type PostgresConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int32  `yaml:"max_connections"`
	MinConnections int32  `yaml:"min_connections"`
}

type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AlertingConfig struct {
	Channels AlertChannelsConfig `yaml:"channels"`
	Telegram TelegramYAMLConfig  `yaml:"telegram"`
	NATS     NATSConfig          `yaml:"nats"`
}

type AlertChannelsConfig struct {
	Log      bool `yaml:"log"`
	Console  bool `yaml:"console"`
	Telegram bool `yaml:"telegram"`
	NATS     bool `yaml:"nats"`
	Store    bool `yaml:"store"`
}

type TelegramYAMLConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Port string `yaml:"port"`
	// Subscribe fills the API's view from the NATS alert subject
	Subscribe bool `yaml:"subscribe"`
}

// GetDefaultConfig returns a configuration that runs fully in memory
func GetDefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			WindowSeconds: 10,
			EventLimit:    0,
			MetricsPort:   "8080",
		},
		Source: SourceConfig{
			Type:         SourceTypePcap,
			HubbleServer: "localhost:4245",
		},
		Rules: []model.Rule{
			{
				Name:        "port_scan",
				Enabled:     true,
				Severity:    model.SeverityHigh,
				Description: "Many destination ports or SYNs from one source in a window",
				Thresholds: map[string]interface{}{
					"unique_dst_ports": 10,
					"syn_count":        15,
					"confidence":       0.8,
				},
			},
			{
				Name:        "traffic_spike",
				Enabled:     true,
				Severity:    model.SeverityMedium,
				Description: "Packet or byte volume above threshold in a window",
				Thresholds: map[string]interface{}{
					"pkt_count":  500,
					"byte_count": 2000000,
					"confidence": 0.6,
				},
			},
			{
				Name:        "dns_burst",
				Enabled:     true,
				Severity:    model.SeverityMedium,
				Description: "Burst of DNS queries in a window",
				Thresholds: map[string]interface{}{
					"dns_query_count": 20,
					"confidence":      0.7,
				},
			},
		},
		Anomaly: AnomalyConfig{
			Enabled:          true,
			ModelDir:         "models",
			ModelFile:        "iforest.gob",
			ScalerFile:       "scaler.gob",
			MinTrainingFlows: 10,
			NEstimators:      100,
			Contamination:    0.05,
			RandomSeed:       42,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			ClickHouse: ClickHouseConfig{
				Host:     "localhost",
				Port:     9000,
				Database: "default",
			},
		},
		Alerting: AlertingConfig{
			Channels: AlertChannelsConfig{
				Log:     true,
				Console: true,
				Store:   true,
			},
			Telegram: TelegramYAMLConfig{
				ParseMode: "HTML",
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Subject: "ids.alerts",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		API: APIConfig{
			Port: "5001",
		},
	}
}
