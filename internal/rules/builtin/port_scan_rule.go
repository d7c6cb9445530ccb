package builtin

import (
	"context"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPortScanUniquePorts = 10
	DefaultPortScanSynCount    = 15
	DefaultPortScanConfidence  = 0.8
)

// PortScanRule flags TCP flows touching many destination ports or carrying
// many SYNs within one window.
type PortScanRule struct {
	flowRule
	uniquePortsThreshold int64
	synThreshold         int64
}

func NewPortScanRule(enabled bool, severity string, uniquePorts, synCount int64, confidence float64, logger *logrus.Logger) *PortScanRule {
	if uniquePorts <= 0 {
		uniquePorts = DefaultPortScanUniquePorts
	}
	if synCount <= 0 {
		synCount = DefaultPortScanSynCount
	}
	return &PortScanRule{
		flowRule:             newFlowRule(PortScanRuleName, enabled, severity, model.SeverityHigh, confidence, DefaultPortScanConfidence, logger),
		uniquePortsThreshold: uniquePorts,
		synThreshold:         synCount,
	}
}

func (r *PortScanRule) Evaluate(ctx context.Context, flow *model.Flow) *model.Alert {
	if !flow.IsTCP() {
		return nil
	}
	if flow.UniqueDstPorts < r.uniquePortsThreshold && flow.SynCount < r.synThreshold {
		return nil
	}

	r.logger.Debugf("[Port Scan] %s -> %s: %d distinct ports, %d SYN (thresholds: %d/%d)",
		model.Deref(flow.SrcIP), model.Deref(flow.DstIP), flow.UniqueDstPorts, flow.SynCount,
		r.uniquePortsThreshold, r.synThreshold)

	return r.newAlert(model.AlertTypePortScan, flow, model.Evidence{
		"unique_dst_ports": flow.UniqueDstPorts,
		"syn_count":        flow.SynCount,
	})
}
