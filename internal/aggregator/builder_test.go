package aggregator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"hybrid-ids/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tcpEvent(ts time.Time, src, dst string, port uint16, flags string) model.Event {
	return model.Event{
		Timestamp:   ts,
		Source:      model.SourcePcap,
		SrcIP:       model.StringPtr(src),
		DstIP:       model.StringPtr(dst),
		SrcPort:     model.PortPtr(40000),
		DstPort:     model.PortPtr(port),
		Protocol:    model.StringPtr(model.ProtocolTCP),
		LengthBytes: 60,
		TCPFlags:    flags,
	}
}

func TestWindowStart(t *testing.T) {
	assert.Equal(t, base.Unix(), WindowStart(base.Add(9*time.Second), 10))
	assert.Equal(t, base.Unix()+10, WindowStart(base.Add(10*time.Second), 10))
	assert.Equal(t, base.Unix(), WindowStart(base.Add(9999*time.Millisecond), 10))
	assert.Equal(t, base.Unix()+60, WindowStart(base.Add(119*time.Second), 60))
}

func TestBuildFlowsEmpty(t *testing.T) {
	flows, err := BuildFlows(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestBuildFlowsInvalidWindow(t *testing.T) {
	for _, w := range []int{0, -5} {
		_, err := BuildFlows([]model.Event{tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "SYN")}, w)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	}
}

func TestBuildFlowsRejectsAddresslessEvent(t *testing.T) {
	events := []model.Event{
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "SYN"),
		{Timestamp: base, Source: model.SourcePcap, LengthBytes: 10},
	}
	flows, err := BuildFlows(events, 10)
	assert.ErrorIs(t, err, ErrMissingAddresses)
	assert.Nil(t, flows)
}

func TestBuildFlowsWindowingAndGrouping(t *testing.T) {
	events := []model.Event{
		tcpEvent(base.Add(1*time.Second), "10.0.0.1", "10.0.0.2", 80, "ACK"),
		tcpEvent(base.Add(9*time.Second), "10.0.0.1", "10.0.0.2", 80, "ACK"),
		tcpEvent(base.Add(10*time.Second), "10.0.0.1", "10.0.0.2", 80, "ACK"),
	}
	flows, err := BuildFlows(events, 10)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	assert.Equal(t, base, flows[0].WindowStart)
	assert.Equal(t, base.Add(10*time.Second), flows[0].WindowEnd)
	assert.Equal(t, int64(2), flows[0].PktCount)
	assert.Equal(t, int64(120), flows[0].ByteCount)
	assert.Equal(t, base.Add(10*time.Second), flows[1].WindowStart)
	assert.Equal(t, int64(1), flows[1].PktCount)
}

func TestBuildFlowsAbsentProtocolIsDistinct(t *testing.T) {
	withProto := tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "")
	noProto := withProto
	noProto.Protocol = nil
	emptyProto := withProto
	emptyProto.Protocol = model.StringPtr("")

	flows, err := BuildFlows([]model.Event{withProto, noProto, emptyProto}, 10)
	require.NoError(t, err)
	require.Len(t, flows, 3)

	assert.Nil(t, flows[0].Protocol)
	require.NotNil(t, flows[1].Protocol)
	assert.Equal(t, "", *flows[1].Protocol)
	assert.Equal(t, model.ProtocolTCP, *flows[2].Protocol)
}

func TestBuildFlowsPortCardinality(t *testing.T) {
	var events []model.Event
	for _, p := range []uint16{80, 80, 443, 22} {
		events = append(events, tcpEvent(base, "10.0.0.1", "10.0.0.2", p, "ACK"))
	}
	noPort := tcpEvent(base, "10.0.0.1", "10.0.0.2", 0, "ACK")
	noPort.DstPort = nil
	events = append(events, noPort)

	flows, err := BuildFlows(events, 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(3), flows[0].UniqueDstPorts)
	assert.Equal(t, int64(5), flows[0].PktCount)
}

func TestBuildFlowsFlagCounting(t *testing.T) {
	events := []model.Event{
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "syn"),
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "0x00000002"),
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "0x00000004"),
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "RST,ACK"),
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "SYN,ACK"),
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "0x00000012"),
		tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, ""),
	}
	flows, err := BuildFlows(events, 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)

	f := flows[0]
	assert.Equal(t, int64(3), f.SynCount)
	assert.Equal(t, int64(2), f.RstCount)
	assert.Equal(t, []string{"SYN", "0X00000002", "0X00000004", "RST,ACK", "SYN,ACK"}, f.Samples.TCPFlagSamples)
}

func TestBuildFlowsIgnoresFlagsOnNonTCP(t *testing.T) {
	ev := tcpEvent(base, "10.0.0.1", "10.0.0.2", 53, "SYN")
	ev.Protocol = model.StringPtr(model.ProtocolUDP)

	flows, err := BuildFlows([]model.Event{ev}, 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Zero(t, flows[0].SynCount)
	assert.Empty(t, flows[0].Samples.TCPFlagSamples)
}

func TestBuildFlowsMissingLengthCountsAsZero(t *testing.T) {
	ev := tcpEvent(base, "10.0.0.1", "10.0.0.2", 80, "ACK")
	ev.LengthBytes = 0
	flows, err := BuildFlows([]model.Event{ev}, 10)
	require.NoError(t, err)
	assert.Zero(t, flows[0].ByteCount)
	assert.Equal(t, int64(1), flows[0].PktCount)
}

func TestBuildFlowsOrderingStableUnderShuffle(t *testing.T) {
	var events []model.Event
	for i := 0; i < 40; i++ {
		src := fmt.Sprintf("10.0.%d.%d", i%3, i%7)
		dst := fmt.Sprintf("192.168.1.%d", i%5)
		events = append(events, tcpEvent(base.Add(time.Duration(i)*time.Second), src, dst, uint16(1000+i), "ACK"))
	}
	noSrc := tcpEvent(base, "", "192.168.1.1", 80, "")
	noSrc.SrcIP = nil
	events = append(events, noSrc)

	expected, err := BuildFlows(events, 10)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		shuffled := append([]model.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := BuildFlows(shuffled, 10)
		require.NoError(t, err)
		require.Len(t, got, len(expected))
		for i := range expected {
			assert.Equal(t, expected[i].WindowStart, got[i].WindowStart)
			assert.Equal(t, expected[i].SrcIP, got[i].SrcIP)
			assert.Equal(t, expected[i].DstIP, got[i].DstIP)
			assert.Equal(t, expected[i].PktCount, got[i].PktCount)
			assert.Equal(t, expected[i].UniqueDstPorts, got[i].UniqueDstPorts)
		}
	}

	assert.Nil(t, expected[0].SrcIP)
	for i := 1; i < len(expected); i++ {
		assert.False(t, lessFlow(&expected[i], &expected[i-1]), "flows out of order at %d", i)
	}
}

func TestBuildFlowsPortScanScenario(t *testing.T) {
	var events []model.Event
	for p := uint16(1); p <= 20; p++ {
		events = append(events, tcpEvent(base.Add(time.Duration(p)*100*time.Millisecond), "10.0.0.66", "10.0.0.2", p, "SYN"))
	}
	flows, err := BuildFlows(events, 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(20), flows[0].UniqueDstPorts)
	assert.Equal(t, int64(20), flows[0].SynCount)
	assert.Len(t, flows[0].Samples.TCPFlagSamples, model.MaxFeatureSamples)
}

func TestBuildFlowsDNSScenario(t *testing.T) {
	var events []model.Event
	for i := 0; i < 25; i++ {
		events = append(events, model.Event{
			Timestamp:   base.Add(time.Duration(i) * 200 * time.Millisecond),
			Source:      model.SourcePcap,
			SrcIP:       model.StringPtr("10.0.0.5"),
			DstIP:       model.StringPtr("8.8.8.8"),
			DstPort:     model.PortPtr(53),
			Protocol:    model.StringPtr(model.ProtocolUDP),
			LengthBytes: 80,
			DNSQName:    fmt.Sprintf("host%d.example.com", i),
			DNSQType:    "A",
		})
	}
	flows, err := BuildFlows(events, 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)

	f := flows[0]
	assert.Equal(t, int64(25), f.DNSQueryCount)
	assert.Equal(t, []string{
		"host0.example.com", "host1.example.com", "host2.example.com", "host3.example.com", "host4.example.com",
	}, f.Samples.DNSQNamesSample)

	raw, err := f.FeaturesJSON()
	require.NoError(t, err)
	var decoded map[string][]string
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Empty(t, decoded["tcp_flag_samples"])
	assert.Len(t, decoded["dns_qnames_sample"], 5)
}
