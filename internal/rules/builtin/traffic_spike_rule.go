package builtin

import (
	"context"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTrafficSpikePackets    = 500
	DefaultTrafficSpikeBytes      = 2_000_000
	DefaultTrafficSpikeConfidence = 0.6
)

// TrafficSpikeRule flags flows with a high packet or byte volume.
type TrafficSpikeRule struct {
	flowRule
	pktThreshold  int64
	byteThreshold int64
}

func NewTrafficSpikeRule(enabled bool, severity string, pktCount, byteCount int64, confidence float64, logger *logrus.Logger) *TrafficSpikeRule {
	if pktCount <= 0 {
		pktCount = DefaultTrafficSpikePackets
	}
	if byteCount <= 0 {
		byteCount = DefaultTrafficSpikeBytes
	}
	return &TrafficSpikeRule{
		flowRule:      newFlowRule(TrafficSpikeRuleName, enabled, severity, model.SeverityMedium, confidence, DefaultTrafficSpikeConfidence, logger),
		pktThreshold:  pktCount,
		byteThreshold: byteCount,
	}
}

func (r *TrafficSpikeRule) Evaluate(ctx context.Context, flow *model.Flow) *model.Alert {
	if flow.PktCount < r.pktThreshold && flow.ByteCount < r.byteThreshold {
		return nil
	}

	r.logger.Debugf("[Traffic Spike] %s -> %s: %d packets, %d bytes",
		model.Deref(flow.SrcIP), model.Deref(flow.DstIP), flow.PktCount, flow.ByteCount)

	return r.newAlert(model.AlertTypeTrafficSpike, flow, model.Evidence{
		"pkt_count":  flow.PktCount,
		"byte_count": flow.ByteCount,
	})
}
