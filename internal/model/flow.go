package model

import (
	"encoding/json"
	"time"
)

// MaxFeatureSamples caps each sample list kept on a Flow
const MaxFeatureSamples = 5

// Flow aggregates the events of one (window, src_ip, dst_ip, protocol) group.
type Flow struct {
	WindowStart      time.Time      `json:"window_start"`
	WindowEnd        time.Time      `json:"window_end"`
	SrcIP            *string        `json:"src_ip"`
	DstIP            *string        `json:"dst_ip"`
	Protocol         *string        `json:"protocol"`
	PktCount         int64          `json:"pkt_count"`
	ByteCount        int64          `json:"byte_count"`
	UniqueDstPorts   int64          `json:"unique_dst_ports"`
	SynCount         int64          `json:"syn_count"`
	RstCount         int64          `json:"rst_count"`
	DNSQueryCount    int64          `json:"dns_query_count"`
	FailedLoginCount int64          `json:"failed_login_count"`
	Samples          FeatureSamples `json:"features"`
}

// FeatureSamples holds the bounded sample lists recorded while aggregating.
type FeatureSamples struct {
	TCPFlagSamples  []string `json:"tcp_flag_samples"`
	DNSQNamesSample []string `json:"dns_qnames_sample"`
}

// FeaturesJSON renders the samples the way flow sinks persist them.
func (f *Flow) FeaturesJSON() (string, error) {
	samples := f.Samples
	if samples.TCPFlagSamples == nil {
		samples.TCPFlagSamples = []string{}
	}
	if samples.DNSQNamesSample == nil {
		samples.DNSQNamesSample = []string{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Window returns the [start, end] pair used in alert evidence.
func (f *Flow) Window() []string {
	return []string{FormatTime(f.WindowStart), FormatTime(f.WindowEnd)}
}

// IsTCP reports whether the flow protocol is TCP.
func (f *Flow) IsTCP() bool {
	return f.Protocol != nil && *f.Protocol == ProtocolTCP
}

// FeatureVector is the numeric input of the anomaly model. The order is fixed.
func (f *Flow) FeatureVector() []float64 {
	return []float64{
		float64(f.PktCount),
		float64(f.ByteCount),
		float64(f.UniqueDstPorts),
		float64(f.SynCount),
		float64(f.RstCount),
		float64(f.DNSQueryCount),
		float64(f.FailedLoginCount),
	}
}

// isoLayout matches the UTC offset form used on the wire (+00:00, never Z).
const isoLayout = "2006-01-02T15:04:05.999999-07:00"

// FormatTime renders t in UTC as an ISO-8601 string.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseTime accepts the ISO-8601 forms emitted by FormatTime and RFC 3339.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05.999999", s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}
