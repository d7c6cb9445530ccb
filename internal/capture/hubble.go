package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/cilium/cilium/api/v1/observer"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// HubbleSource reads recent flows from a Hubble relay and turns each one
// into an event. It never follows the stream: a batch is whatever the relay
// returns for the request.
type HubbleSource struct {
	conn       *grpc.ClientConn
	client     observer.ObserverClient
	server     string
	namespaces []string
	logger     *logrus.Logger
	metrics    *metrics.PrometheusMetrics
}

func NewHubbleSource(server string, namespaces []string, logger *logrus.Logger, m *metrics.PrometheusMetrics) (*HubbleSource, error) {
	conn, err := grpc.NewClient(server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Hubble server: %w", err)
	}

	return &HubbleSource{
		conn:       conn,
		client:     observer.NewObserverClient(conn),
		server:     server,
		namespaces: namespaces,
		logger:     logger,
		metrics:    m,
	}, nil
}

func (s *HubbleSource) Name() string {
	return model.SourceHubble
}

func (s *HubbleSource) Close() error {
	return s.conn.Close()
}

// Events asks the relay for the last limit flows (its own default when
// limit is not positive) and drains the response stream.
func (s *HubbleSource) Events(ctx context.Context, limit int) ([]model.Event, error) {
	req := &observer.GetFlowsRequest{Follow: false}
	if limit > 0 {
		req.Number = uint64(limit)
	}
	for _, ns := range s.namespaces {
		req.Whitelist = append(req.Whitelist,
			&observer.FlowFilter{
				SourceLabel: []string{"k8s:io.kubernetes.pod.namespace=" + ns},
			},
			&observer.FlowFilter{
				DestinationLabel: []string{"k8s:io.kubernetes.pod.namespace=" + ns},
			},
		)
	}

	s.logger.Infof("[Capture] Reading flows from Hubble relay at %s", s.server)
	stream, err := s.client.GetFlows(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start flow streaming: %w", err)
	}

	c := newCollector(model.SourceHubble, limit, s.logger, s.metrics)
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.events, ctx.Err()
			}
			return c.events, fmt.Errorf("failed to receive flow: %w", err)
		}

		f := response.GetFlow()
		if f == nil {
			continue
		}
		if !c.add(eventFromHubbleFlow(f)) {
			break
		}
	}
	return c.result(), nil
}

func eventFromHubbleFlow(f *observer.Flow) model.Event {
	ev := model.Event{Source: model.SourceHubble}

	if ts := f.GetTime(); ts != nil {
		ev.Timestamp = ts.AsTime().UTC()
	} else {
		ev.Timestamp = time.Now().UTC()
	}

	if ip := f.GetIP(); ip != nil {
		if ip.GetSource() != "" {
			ev.SrcIP = model.StringPtr(ip.GetSource())
		}
		if ip.GetDestination() != "" {
			ev.DstIP = model.StringPtr(ip.GetDestination())
		}
	}

	if l4 := f.GetL4(); l4 != nil {
		if tcp := l4.GetTCP(); tcp != nil {
			ev.Protocol = model.StringPtr(model.ProtocolTCP)
			ev.SrcPort = model.PortPtr(uint16(tcp.GetSourcePort()))
			ev.DstPort = model.PortPtr(uint16(tcp.GetDestinationPort()))
			if flags := tcp.GetFlags(); flags != nil {
				ev.TCPFlags = tcpFlagString(flags.GetSYN(), flags.GetACK(), flags.GetFIN(), flags.GetRST(),
					flags.GetPSH(), flags.GetURG(), flags.GetECE(), flags.GetCWR(), flags.GetNS())
			}
		} else if udp := l4.GetUDP(); udp != nil {
			ev.Protocol = model.StringPtr(model.ProtocolUDP)
			ev.SrcPort = model.PortPtr(uint16(udp.GetSourcePort()))
			ev.DstPort = model.PortPtr(uint16(udp.GetDestinationPort()))
		} else if l4.GetICMPv4() != nil || l4.GetICMPv6() != nil {
			ev.Protocol = model.StringPtr(model.ProtocolICMP)
		}
	}

	if l7 := f.GetL7(); l7 != nil {
		if dns := l7.GetDns(); dns != nil {
			ev.DNSQName = dns.GetQuery()
			if qtypes := dns.GetQtypes(); len(qtypes) > 0 {
				ev.DNSQType = qtypes[0]
			}
		}
	}

	return ev
}
