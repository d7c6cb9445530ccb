package capture

import (
	"context"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

// Source reads a finite batch of normalized events. A positive limit caps
// the number of events returned; events with neither address are dropped
// and do not count towards it.
type Source interface {
	Name() string
	Events(ctx context.Context, limit int) ([]model.Event, error)
}

// collector applies the limit and drop rules shared by every source
type collector struct {
	source  string
	limit   int
	events  []model.Event
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

func newCollector(source string, limit int, logger *logrus.Logger, m *metrics.PrometheusMetrics) *collector {
	return &collector{source: source, limit: limit, logger: logger, metrics: m}
}

// add keeps ev unless it has no address and reports whether more events are wanted.
func (c *collector) add(ev model.Event) bool {
	if !ev.HasAddress() {
		c.metrics.RecordDiscarded(c.source, "no_address")
		return !c.full()
	}
	if ev.Source == "" {
		ev.Source = c.source
	}
	c.events = append(c.events, ev)
	c.metrics.RecordEvent(c.source)
	return !c.full()
}

func (c *collector) discard(reason string) {
	c.metrics.RecordDiscarded(c.source, reason)
}

func (c *collector) full() bool {
	return c.limit > 0 && len(c.events) >= c.limit
}

func (c *collector) result() []model.Event {
	c.logger.Infof("[Capture] Read %d %s events", len(c.events), c.source)
	return c.events
}
