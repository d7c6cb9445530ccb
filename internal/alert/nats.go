package alert

import (
	"encoding/json"
	"fmt"

	"hybrid-ids/internal/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// DefaultNATSSubject is where alerts are published when no subject is configured
const DefaultNATSSubject = "ids.alerts"

// NATSNotifier publishes each alert as JSON on a NATS subject
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *logrus.Logger
}

func NewNATSNotifier(url, subject string, logger *logrus.Logger) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, nats.Name("hybrid-ids"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	logger.Infof("Connected to NATS server at %s", url)
	return NewNATSNotifierWithConn(nc, subject, logger), nil
}

func NewNATSNotifierWithConn(nc *nats.Conn, subject string, logger *logrus.Logger) *NATSNotifier {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSNotifier{nc: nc, subject: subject, logger: logger}
}

func (n *NATSNotifier) SendAlert(alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set("Alert-Type", string(alert.Type))

	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish alert to %s: %w", n.subject, err)
	}
	return nil
}

// Close drains the connection so queued alerts are flushed.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Drain()
		n.logger.Info("NATS connection drained and closed.")
	}
}

// AlertHandler receives alerts decoded by a Subscriber
type AlertHandler func(model.Alert)

// Subscriber consumes the alerts a NATSNotifier publishes
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *logrus.Logger
}

func NewSubscriber(url, subject string, logger *logrus.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url, nats.Name("hybrid-ids-api"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &Subscriber{nc: nc, subject: subject, logger: logger}, nil
}

func (s *Subscriber) Start(handler AlertHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var alert model.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			s.logger.Warnf("Dropping undecodable alert on %s: %v", msg.Subject, err)
			return
		}
		handler(alert)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Infof("Subscribed to '%s'", s.subject)
	return nil
}

func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
