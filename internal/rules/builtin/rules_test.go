package builtin

import (
	"context"
	"io"
	"testing"
	"time"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fixedNow    = time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func flowFor(proto string) model.Flow {
	return model.Flow{
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(10 * time.Second),
		SrcIP:       model.StringPtr("10.0.0.66"),
		DstIP:       model.StringPtr("10.0.0.2"),
		Protocol:    model.StringPtr(proto),
		PktCount:    1,
	}
}

func TestPortScanRuleFiresOnDistinctPorts(t *testing.T) {
	rule := NewPortScanRule(true, "", 0, 0, 0, quietLogger())
	rule.SetClock(func() time.Time { return fixedNow })

	flow := flowFor(model.ProtocolTCP)
	flow.UniqueDstPorts = 20
	flow.SynCount = 20

	alert := rule.Evaluate(context.Background(), &flow)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertTypePortScan, alert.Type)
	assert.Equal(t, model.SeverityHigh, alert.Severity)
	assert.Equal(t, 0.8, alert.Confidence)
	assert.Equal(t, fixedNow, alert.Time)
	assert.Equal(t, "10.0.0.66", *alert.SrcIP)
	assert.Equal(t, int64(20), alert.Evidence["unique_dst_ports"])
	assert.Equal(t, int64(20), alert.Evidence["syn_count"])
	assert.Equal(t, []string{"2024-03-01T12:00:00+00:00", "2024-03-01T12:00:10+00:00"}, alert.Evidence["window"])
}

func TestPortScanRuleThresholdBoundaries(t *testing.T) {
	rule := NewPortScanRule(true, "", 0, 0, 0, quietLogger())

	flow := flowFor(model.ProtocolTCP)
	flow.UniqueDstPorts = 9
	flow.SynCount = 14
	assert.Nil(t, rule.Evaluate(context.Background(), &flow))

	flow.SynCount = 15
	assert.NotNil(t, rule.Evaluate(context.Background(), &flow))

	flow.SynCount = 0
	flow.UniqueDstPorts = 10
	assert.NotNil(t, rule.Evaluate(context.Background(), &flow))
}

func TestPortScanRuleIgnoresNonTCP(t *testing.T) {
	rule := NewPortScanRule(true, "", 0, 0, 0, quietLogger())

	udp := flowFor(model.ProtocolUDP)
	udp.UniqueDstPorts = 100
	assert.Nil(t, rule.Evaluate(context.Background(), &udp))

	noProto := flowFor(model.ProtocolTCP)
	noProto.Protocol = nil
	noProto.UniqueDstPorts = 100
	assert.Nil(t, rule.Evaluate(context.Background(), &noProto))
}

func TestPortScanRuleCustomThresholds(t *testing.T) {
	rule := NewPortScanRule(true, model.SeverityMedium, 3, 100, 0.5, quietLogger())

	flow := flowFor(model.ProtocolTCP)
	flow.UniqueDstPorts = 3
	alert := rule.Evaluate(context.Background(), &flow)
	require.NotNil(t, alert)
	assert.Equal(t, model.SeverityMedium, alert.Severity)
	assert.Equal(t, 0.5, alert.Confidence)
}

func TestTrafficSpikeRule(t *testing.T) {
	rule := NewTrafficSpikeRule(true, "", 0, 0, 0, quietLogger())

	flow := flowFor(model.ProtocolUDP)
	flow.PktCount = 499
	flow.ByteCount = 1_999_999
	assert.Nil(t, rule.Evaluate(context.Background(), &flow))

	flow.PktCount = 600
	flow.ByteCount = 600 * 100
	alert := rule.Evaluate(context.Background(), &flow)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertTypeTrafficSpike, alert.Type)
	assert.Equal(t, model.SeverityMedium, alert.Severity)
	assert.Equal(t, 0.6, alert.Confidence)
	assert.Equal(t, int64(600), alert.Evidence["pkt_count"])
	assert.Equal(t, int64(60000), alert.Evidence["byte_count"])

	bytesOnly := flowFor("")
	bytesOnly.Protocol = nil
	bytesOnly.ByteCount = 2_000_000
	assert.NotNil(t, rule.Evaluate(context.Background(), &bytesOnly))
}

func TestDNSBurstRule(t *testing.T) {
	rule := NewDNSBurstRule(true, "", 0, 0, quietLogger())

	flow := flowFor(model.ProtocolUDP)
	flow.DNSQueryCount = 19
	assert.Nil(t, rule.Evaluate(context.Background(), &flow))

	flow.DNSQueryCount = 25
	alert := rule.Evaluate(context.Background(), &flow)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertTypeDNSBurst, alert.Type)
	assert.Equal(t, model.SeverityMedium, alert.Severity)
	assert.Equal(t, 0.7, alert.Confidence)
	assert.Equal(t, int64(25), alert.Evidence["dns_query_count"])
	assert.Len(t, alert.Evidence, 2)
}

func TestRuleEvidenceIsIdempotent(t *testing.T) {
	rule := NewPortScanRule(true, "", 0, 0, 0, quietLogger())

	flow := flowFor(model.ProtocolTCP)
	flow.UniqueDstPorts = 12

	first := rule.Evaluate(context.Background(), &flow)
	second := rule.Evaluate(context.Background(), &flow)
	require.NotNil(t, first)
	require.NotNil(t, second)

	a, err := first.EvidenceJSON()
	require.NoError(t, err)
	b, err := second.EvidenceJSON()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.JSONEq(t, `{"syn_count":0,"unique_dst_ports":12,"window":["2024-03-01T12:00:00+00:00","2024-03-01T12:00:10+00:00"]}`, a)
}

func TestRuleNamesAndEnabled(t *testing.T) {
	assert.Equal(t, PortScanRuleName, NewPortScanRule(true, "", 0, 0, 0, quietLogger()).Name())
	assert.Equal(t, TrafficSpikeRuleName, NewTrafficSpikeRule(false, "", 0, 0, 0, quietLogger()).Name())
	assert.False(t, NewDNSBurstRule(false, "", 0, 0, quietLogger()).IsEnabled())
}
