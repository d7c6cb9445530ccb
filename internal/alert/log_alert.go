package alert

import (
	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier sends alerts to local logs
type LogAlertNotifier struct {
	logger *logrus.Logger
}

// NewLogAlertNotifier creates a new log alert notifier
func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

// SendAlert writes one structured warning per alert
func (ln *LogAlertNotifier) SendAlert(alert model.Alert) error {
	evidence, err := alert.EvidenceJSON()
	if err != nil {
		return err
	}
	ln.logger.WithFields(logrus.Fields{
		"alert_type": alert.Type,
		"severity":   alert.Severity,
		"confidence": alert.Confidence,
		"src_ip":     model.Deref(alert.SrcIP),
		"dst_ip":     model.Deref(alert.DstIP),
		"evidence":   evidence,
	}).Warnf("ALERT [%s] %s", alert.Severity, alert.Type)
	return nil
}
