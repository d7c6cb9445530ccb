package aggregator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"hybrid-ids/internal/model"
)

var (
	// ErrInvalidWindow is returned for a non-positive window size.
	ErrInvalidWindow = errors.New("window_seconds must be positive")
	// ErrMissingAddresses is returned when an event carries neither address.
	ErrMissingAddresses = errors.New("event has neither src_ip nor dst_ip")
)

// optString keeps "absent" apart from "" inside a comparable map key.
type optString struct {
	value string
	set   bool
}

func opt(s *string) optString {
	if s == nil {
		return optString{}
	}
	return optString{value: *s, set: true}
}

func (o optString) ptr() *string {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

type flowKey struct {
	windowStart int64
	src         optString
	dst         optString
	proto       optString
}

type bucket struct {
	pktCount      int64
	byteCount     int64
	dstPorts      map[uint16]struct{}
	synCount      int64
	rstCount      int64
	dnsQueryCount int64
	flagSamples   []string
	qnameSamples  []string
}

// WindowStart floors the event instant to its window boundary in epoch seconds.
// Fractional seconds are truncated before flooring.
func WindowStart(ts time.Time, windowSeconds int64) int64 {
	epoch := ts.Unix()
	return epoch - floorMod(epoch, windowSeconds)
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// BuildFlows groups events into per-window flow records, ordered by
// (window_start, src_ip, dst_ip, protocol) with absent values sorting as "".
func BuildFlows(events []model.Event, windowSeconds int) ([]model.Flow, error) {
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("build flows: %w (got %d)", ErrInvalidWindow, windowSeconds)
	}
	w := int64(windowSeconds)

	buckets := make(map[flowKey]*bucket)
	for i := range events {
		ev := &events[i]
		if !ev.HasAddress() {
			return nil, fmt.Errorf("build flows: event %d: %w", i, ErrMissingAddresses)
		}

		key := flowKey{
			windowStart: WindowStart(ev.Timestamp, w),
			src:         opt(ev.SrcIP),
			dst:         opt(ev.DstIP),
			proto:       opt(ev.Protocol),
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{dstPorts: make(map[uint16]struct{})}
			buckets[key] = b
		}
		b.add(ev)
	}

	flows := make([]model.Flow, 0, len(buckets))
	for key, b := range buckets {
		start := time.Unix(key.windowStart, 0).UTC()
		flows = append(flows, model.Flow{
			WindowStart:    start,
			WindowEnd:      start.Add(time.Duration(w) * time.Second),
			SrcIP:          key.src.ptr(),
			DstIP:          key.dst.ptr(),
			Protocol:       key.proto.ptr(),
			PktCount:       b.pktCount,
			ByteCount:      b.byteCount,
			UniqueDstPorts: int64(len(b.dstPorts)),
			SynCount:       b.synCount,
			RstCount:       b.rstCount,
			DNSQueryCount:  b.dnsQueryCount,
			Samples: model.FeatureSamples{
				TCPFlagSamples:  b.flagSamples,
				DNSQNamesSample: b.qnameSamples,
			},
		})
	}

	sort.SliceStable(flows, func(i, j int) bool {
		return lessFlow(&flows[i], &flows[j])
	})
	return flows, nil
}

func (b *bucket) add(ev *model.Event) {
	b.pktCount++
	if ev.LengthBytes > 0 {
		b.byteCount += ev.LengthBytes
	}
	if ev.DstPort != nil {
		b.dstPorts[*ev.DstPort] = struct{}{}
	}

	if ev.IsTCP() && ev.TCPFlags != "" {
		flags := strings.ToUpper(ev.TCPFlags)
		if strings.Contains(flags, "SYN") || flags == "0X00000002" {
			b.synCount++
		}
		if strings.Contains(flags, "RST") || flags == "0X00000004" {
			b.rstCount++
		}
		if len(b.flagSamples) < model.MaxFeatureSamples {
			b.flagSamples = append(b.flagSamples, flags)
		}
	}

	if ev.DNSQName != "" {
		b.dnsQueryCount++
		if len(b.qnameSamples) < model.MaxFeatureSamples {
			b.qnameSamples = append(b.qnameSamples, ev.DNSQName)
		}
	}
}

func lessFlow(a, b *model.Flow) bool {
	if !a.WindowStart.Equal(b.WindowStart) {
		return a.WindowStart.Before(b.WindowStart)
	}
	if x, y := model.Deref(a.SrcIP), model.Deref(b.SrcIP); x != y {
		return x < y
	}
	if x, y := model.Deref(a.DstIP), model.Deref(b.DstIP); x != y {
		return x < y
	}
	if x, y := model.Deref(a.Protocol), model.Deref(b.Protocol); x != y {
		return x < y
	}
	// absent before "" so output never depends on map iteration order
	if x, y := presence(a), presence(b); x != y {
		return x < y
	}
	return false
}

func presence(f *model.Flow) int {
	n := 0
	for i, p := range []*string{f.SrcIP, f.DstIP, f.Protocol} {
		if p != nil {
			n |= 1 << (2 - i)
		}
	}
	return n
}
