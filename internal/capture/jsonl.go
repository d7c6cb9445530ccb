package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

// wireEvent is one line of the JSON-lines interchange format. ts may carry
// an offset or be naive UTC.
type wireEvent struct {
	Ts          string  `json:"ts"`
	Source      string  `json:"source"`
	SrcIP       *string `json:"src_ip"`
	DstIP       *string `json:"dst_ip"`
	SrcPort     *uint16 `json:"src_port"`
	DstPort     *uint16 `json:"dst_port"`
	Protocol    *string `json:"protocol"`
	LengthBytes *int64  `json:"length_bytes"`
	TCPFlags    *string `json:"tcp_flags"`
	DNSQName    *string `json:"dns_qname"`
	DNSQType    *string `json:"dns_qtype"`
}

// JSONLSource reads events previously exported as JSON lines
type JSONLSource struct {
	path    string
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

func NewJSONLSource(path string, logger *logrus.Logger, m *metrics.PrometheusMetrics) *JSONLSource {
	return &JSONLSource{path: path, logger: logger, metrics: m}
}

func (s *JSONLSource) Name() string {
	return model.SourceJSONL
}

func (s *JSONLSource) Events(ctx context.Context, limit int) ([]model.Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	return ReadJSONL(ctx, f, limit, s.logger, s.metrics)
}

// ReadJSONL decodes one event per non-blank line. A malformed line is an
// error; an event without addresses is dropped.
func ReadJSONL(ctx context.Context, r io.Reader, limit int, logger *logrus.Logger, m *metrics.PrometheusMetrics) ([]model.Event, error) {
	c := newCollector(model.SourceJSONL, limit, logger, m)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return c.events, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var w wireEvent
		if err := json.Unmarshal([]byte(text), &w); err != nil {
			return c.events, fmt.Errorf("line %d: %w", line, err)
		}
		ev, err := w.event()
		if err != nil {
			return c.events, fmt.Errorf("line %d: %w", line, err)
		}
		if !c.add(ev) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return c.events, fmt.Errorf("read events: %w", err)
	}
	return c.result(), nil
}

func (w *wireEvent) event() (model.Event, error) {
	ts, err := model.ParseTime(w.Ts)
	if err != nil {
		return model.Event{}, fmt.Errorf("invalid ts %q: %w", w.Ts, err)
	}
	ev := model.Event{
		Timestamp: ts,
		Source:    w.Source,
		SrcIP:     w.SrcIP,
		DstIP:     w.DstIP,
		SrcPort:   w.SrcPort,
		DstPort:   w.DstPort,
		Protocol:  w.Protocol,
	}
	if w.LengthBytes != nil {
		ev.LengthBytes = *w.LengthBytes
	}
	if w.TCPFlags != nil {
		ev.TCPFlags = *w.TCPFlags
	}
	if w.DNSQName != nil {
		ev.DNSQName = *w.DNSQName
	}
	if w.DNSQType != nil {
		ev.DNSQType = *w.DNSQType
	}
	return ev, nil
}
