package builtin

import (
	"context"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	DefaultDNSBurstQueries    = 20
	DefaultDNSBurstConfidence = 0.7
)

// DNSBurstRule flags excessive DNS querying, a common beaconing pattern.
type DNSBurstRule struct {
	flowRule
	queryThreshold int64
}

func NewDNSBurstRule(enabled bool, severity string, queries int64, confidence float64, logger *logrus.Logger) *DNSBurstRule {
	if queries <= 0 {
		queries = DefaultDNSBurstQueries
	}
	return &DNSBurstRule{
		flowRule:       newFlowRule(DNSBurstRuleName, enabled, severity, model.SeverityMedium, confidence, DefaultDNSBurstConfidence, logger),
		queryThreshold: queries,
	}
}

func (r *DNSBurstRule) Evaluate(ctx context.Context, flow *model.Flow) *model.Alert {
	if flow.DNSQueryCount < r.queryThreshold {
		return nil
	}

	r.logger.Debugf("[DNS Burst] %s -> %s: %d queries", model.Deref(flow.SrcIP), model.Deref(flow.DstIP), flow.DNSQueryCount)

	return r.newAlert(model.AlertTypeDNSBurst, flow, model.Evidence{
		"dns_query_count": flow.DNSQueryCount,
	})
}
