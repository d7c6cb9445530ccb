package model

import (
	"encoding/json"
	"time"
)

type Rule struct {
	Name        string                 `yaml:"name" json:"name"`
	Enabled     bool                   `yaml:"enabled" json:"enabled"`
	Severity    string                 `yaml:"severity" json:"severity"`
	Description string                 `yaml:"description" json:"description"`
	Thresholds  map[string]interface{} `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
}

// AlertType names what raised an alert
type AlertType string

const (
	AlertTypePortScan      AlertType = "PORT_SCAN"
	AlertTypeTrafficSpike  AlertType = "TRAFFIC_SPIKE"
	AlertTypeDNSBurst      AlertType = "DNS_BURST"
	AlertTypeAnomalousFlow AlertType = "ANOMALOUS_FLOW"
	AlertTypeStartup       AlertType = "STARTUP"
)

// Severity levels
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// Evidence is the structured payload attached to an alert
type Evidence map[string]interface{}

type Alert struct {
	Time       time.Time `json:"time"`
	Type       AlertType `json:"alert_type"`
	Severity   string    `json:"severity"`
	Confidence float64   `json:"confidence"`
	SrcIP      *string   `json:"src_ip"`
	DstIP      *string   `json:"dst_ip"`
	Evidence   Evidence  `json:"evidence"`
}

// EvidenceJSON serializes the evidence for sinks that store it as text.
// Keys are emitted in sorted order so equal evidence yields equal text.
func (a *Alert) EvidenceJSON() (string, error) {
	if a.Evidence == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a.Evidence)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewStartupAlert is the marker alert written at the beginning of every run.
func NewStartupAlert(now time.Time) Alert {
	return Alert{
		Time:       now.UTC(),
		Type:       AlertTypeStartup,
		Severity:   SeverityLow,
		Confidence: 0.2,
		Evidence: Evidence{
			"reason": "startup",
			"module": "bootstrap",
		},
	}
}
