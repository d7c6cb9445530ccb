package model

import (
	"time"
)

// Event is one normalized observation produced by a capture adapter.
// Optional address and protocol fields are pointers so that an absent value
// stays distinguishable from an empty string.
type Event struct {
	Timestamp   time.Time `json:"ts"`
	Source      string    `json:"source"`
	SrcIP       *string   `json:"src_ip"`
	DstIP       *string   `json:"dst_ip"`
	SrcPort     *uint16   `json:"src_port"`
	DstPort     *uint16   `json:"dst_port"`
	Protocol    *string   `json:"protocol"`
	LengthBytes int64     `json:"length_bytes"`
	TCPFlags    string    `json:"tcp_flags,omitempty"`
	DNSQName    string    `json:"dns_qname,omitempty"`
	DNSQType    string    `json:"dns_qtype,omitempty"`
}

// Protocol names emitted by the capture adapters
const (
	ProtocolTCP  = "TCP"
	ProtocolUDP  = "UDP"
	ProtocolICMP = "ICMP"
)

// Event sources
const (
	SourcePcap   = "pcap"
	SourceHubble = "hubble"
	SourceJSONL  = "jsonl"
)

// HasAddress reports whether at least one of the endpoint addresses is set.
func (e *Event) HasAddress() bool {
	return (e.SrcIP != nil && *e.SrcIP != "") || (e.DstIP != nil && *e.DstIP != "")
}

// IsTCP reports whether the event protocol is TCP.
func (e *Event) IsTCP() bool {
	return e.Protocol != nil && *e.Protocol == ProtocolTCP
}

func StringPtr(s string) *string {
	return &s
}

func PortPtr(p uint16) *uint16 {
	return &p
}

// Deref returns the pointed-to string or "" when absent.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
