package rules

import (
	"context"
	"fmt"
	"sync"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

type Engine struct {
	rules          []RuleInterface
	alertNotifiers []NotifierInterface
	logger         *logrus.Logger
	metrics        *metrics.PrometheusMetrics
	mu             sync.RWMutex
}

type NotifierInterface interface {
	SendAlert(alert model.Alert) error
}

type RuleInterface interface {
	Name() string
	IsEnabled() bool
	Evaluate(ctx context.Context, flow *model.Flow) *model.Alert
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		rules:          make([]RuleInterface, 0),
		alertNotifiers: make([]NotifierInterface, 0),
		logger:         logger,
	}
}

// SetMetrics attaches pipeline metrics; nil disables recording.
func (e *Engine) SetMetrics(m *metrics.PrometheusMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

func (e *Engine) RegisterRule(rule RuleInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	e.logger.Infof("Registered rule: %s (enabled: %t)", rule.Name(), rule.IsEnabled())
}

func (e *Engine) RegisterNotifier(notifier NotifierInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alertNotifiers = append(e.alertNotifiers, notifier)
}

// Rules returns the registered rules in evaluation order.
func (e *Engine) Rules() []RuleInterface {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]RuleInterface, len(e.rules))
	copy(rules, e.rules)
	return rules
}

// Run evaluates every enabled rule over the whole flow sequence, one rule
// at a time in registration order. A rule failing on a flow is logged and
// counted, then evaluation moves on to the next flow.
func (e *Engine) Run(ctx context.Context, flows []model.Flow) []model.Alert {
	var alerts []model.Alert

	for _, rule := range e.Rules() {
		if !rule.IsEnabled() {
			continue
		}
		for i := range flows {
			if ctx.Err() != nil {
				return alerts
			}
			alert, err := e.safeEvaluate(ctx, rule, &flows[i])
			if err != nil {
				e.logger.WithField("rule", rule.Name()).Errorf("Rule evaluation failed on flow %d: %v", i, err)
				e.currentMetrics().RecordDetectorFailure(rule.Name())
				continue
			}
			if alert != nil {
				alerts = append(alerts, *alert)
				e.EmitAlert(*alert)
			}
		}
	}

	return alerts
}

func (e *Engine) safeEvaluate(ctx context.Context, rule RuleInterface, flow *model.Flow) (alert *model.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.Name(), r)
		}
	}()
	return rule.Evaluate(ctx, flow), nil
}

// EmitAlert hands the alert to every registered notifier. Notifier errors are
// logged and never stop delivery to the others.
func (e *Engine) EmitAlert(alert model.Alert) {
	e.mu.RLock()
	notifiers := make([]NotifierInterface, len(e.alertNotifiers))
	copy(notifiers, e.alertNotifiers)
	m := e.metrics
	e.mu.RUnlock()

	m.RecordAlert(alert)

	for _, notifier := range notifiers {
		if err := notifier.SendAlert(alert); err != nil {
			e.logger.Errorf("Failed to send alert: %v", err)
			m.RecordSinkError(fmt.Sprintf("%T", notifier))
		}
	}
}

func (e *Engine) currentMetrics() *metrics.PrometheusMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}
