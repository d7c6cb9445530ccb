package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
)

const pcapngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PcapSource decodes a classic pcap or pcapng capture file
type PcapSource struct {
	path    string
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

func NewPcapSource(path string, logger *logrus.Logger, m *metrics.PrometheusMetrics) *PcapSource {
	return &PcapSource{path: path, logger: logger, metrics: m}
}

func (s *PcapSource) Name() string {
	return model.SourcePcap
}

func (s *PcapSource) Events(ctx context.Context, limit int) ([]model.Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	defer f.Close()

	return ReadPcap(ctx, f, limit, s.logger, s.metrics)
}

// ReadPcap decodes packets from r until EOF or until limit events were kept.
func ReadPcap(ctx context.Context, r io.Reader, limit int, logger *logrus.Logger, m *metrics.PrometheusMetrics) ([]model.Event, error) {
	reader, err := openPacketReader(r)
	if err != nil {
		return nil, err
	}
	linkType := reader.LinkType()
	logger.Debugf("[Capture] Reading pcap with link type %s", linkType)

	c := newCollector(model.SourcePcap, limit, logger, m)
	for {
		if err := ctx.Err(); err != nil {
			return c.events, err
		}

		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.events, fmt.Errorf("read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		if !c.add(eventFromPacket(packet, ci)) {
			break
		}
	}
	return c.result(), nil
}

func openPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, nil
	}

	classic, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return classic, nil
}

// eventFromPacket extracts addresses from IPv4, falling back to IPv6, then
// the first transport layer and the first DNS question.
func eventFromPacket(packet gopacket.Packet, ci gopacket.CaptureInfo) model.Event {
	ev := model.Event{
		Timestamp:   ci.Timestamp.UTC(),
		Source:      model.SourcePcap,
		LengthBytes: int64(ci.Length),
	}
	if ev.LengthBytes == 0 {
		ev.LengthBytes = int64(len(packet.Data()))
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		ev.SrcIP = model.StringPtr(ip.SrcIP.String())
		ev.DstIP = model.StringPtr(ip.DstIP.String())
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		ev.SrcIP = model.StringPtr(ip.SrcIP.String())
		ev.DstIP = model.StringPtr(ip.DstIP.String())
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		ev.Protocol = model.StringPtr(model.ProtocolTCP)
		ev.SrcPort = model.PortPtr(uint16(tcp.SrcPort))
		ev.DstPort = model.PortPtr(uint16(tcp.DstPort))
		ev.TCPFlags = tcpFlagString(tcp.SYN, tcp.ACK, tcp.FIN, tcp.RST, tcp.PSH, tcp.URG, tcp.ECE, tcp.CWR, tcp.NS)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		ev.Protocol = model.StringPtr(model.ProtocolUDP)
		ev.SrcPort = model.PortPtr(uint16(udp.SrcPort))
		ev.DstPort = model.PortPtr(uint16(udp.DstPort))
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil {
		ev.Protocol = model.StringPtr(model.ProtocolICMP)
	}

	if l := packet.Layer(layers.LayerTypeDNS); l != nil {
		dns := l.(*layers.DNS)
		if len(dns.Questions) > 0 {
			q := dns.Questions[0]
			ev.DNSQName = string(q.Name)
			ev.DNSQType = q.Type.String()
		}
	}

	return ev
}

var tcpFlagNames = []string{"SYN", "ACK", "FIN", "RST", "PSH", "URG", "ECE", "CWR", "NS"}

// tcpFlagString renders the set flags as "SYN,ACK". The arguments follow
// the order of tcpFlagNames.
func tcpFlagString(set ...bool) string {
	var flags []string
	for i, on := range set {
		if on && i < len(tcpFlagNames) {
			flags = append(flags, tcpFlagNames[i])
		}
	}
	return strings.Join(flags, ",")
}
