package alert

import (
	"fmt"
	"io"
	"sync"

	"hybrid-ids/internal/model"
)

// ConsoleNotifier prints one line per alert, marked by severity
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

func (cn *ConsoleNotifier) SendAlert(alert model.Alert) error {
	severityEmoji := "⚠️"
	switch alert.Severity {
	case model.SeverityHigh:
		severityEmoji = "🔴"
	case model.SeverityMedium:
		severityEmoji = "🟡"
	case model.SeverityLow:
		severityEmoji = "🟢"
	}

	route := ""
	if alert.SrcIP != nil || alert.DstIP != nil {
		route = fmt.Sprintf(" %s -> %s", orDash(alert.SrcIP), orDash(alert.DstIP))
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()
	_, err := fmt.Fprintf(cn.out, "%s [%s] %s %s%s (confidence %.2f)\n",
		severityEmoji, alert.Time.Format("2006-01-02 15:04:05"), alert.Severity, alert.Type, route, alert.Confidence)
	return err
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
