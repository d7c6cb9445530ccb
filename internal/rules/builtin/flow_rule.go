package builtin

import (
	"time"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

// Rule names as they appear in configuration
const (
	PortScanRuleName     = "port_scan"
	TrafficSpikeRuleName = "traffic_spike"
	DNSBurstRuleName     = "dns_burst"
)

// flowRule carries what every threshold rule shares.
type flowRule struct {
	name       string
	enabled    bool
	severity   string
	confidence float64
	logger     *logrus.Logger
	now        func() time.Time
}

func newFlowRule(name string, enabled bool, severity, defaultSeverity string, confidence, defaultConfidence float64, logger *logrus.Logger) flowRule {
	if severity == "" {
		severity = defaultSeverity
	}
	if confidence <= 0 || confidence > 1 {
		confidence = defaultConfidence
	}
	return flowRule{
		name:       name,
		enabled:    enabled,
		severity:   severity,
		confidence: confidence,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *flowRule) Name() string {
	return r.name
}

func (r *flowRule) IsEnabled() bool {
	return r.enabled
}

func (r *flowRule) Severity() string {
	return r.severity
}

func (r *flowRule) Confidence() float64 {
	return r.confidence
}

// SetConfidence overrides the alert confidence, zero included. Callers
// validate the range.
func (r *flowRule) SetConfidence(confidence float64) {
	r.confidence = confidence
}

// SetClock replaces the wall clock used to stamp alerts.
func (r *flowRule) SetClock(now func() time.Time) {
	r.now = now
}

func (r *flowRule) newAlert(alertType model.AlertType, flow *model.Flow, evidence model.Evidence) *model.Alert {
	evidence["window"] = flow.Window()
	return &model.Alert{
		Time:       r.now(),
		Type:       alertType,
		Severity:   r.severity,
		Confidence: r.confidence,
		SrcIP:      flow.SrcIP,
		DstIP:      flow.DstIP,
		Evidence:   evidence,
	}
}
