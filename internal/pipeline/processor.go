package pipeline

import (
	"context"
	"fmt"
	"time"

	"hybrid-ids/internal/aggregator"
	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"
	"hybrid-ids/internal/rules"
	"hybrid-ids/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const anomalyDetectorName = "anomaly"

// Detector is a batch detector run after the rules, such as the anomaly scorer
type Detector interface {
	Detect(ctx context.Context, flows []model.Flow) ([]model.Alert, error)
}

// Processor runs one batch of events through aggregation, persistence,
// rules and the anomaly detector. Every alert is delivered through the
// engine's notifiers.
type Processor struct {
	engine        *rules.Engine
	detector      Detector
	flowSinks     []storage.FlowSink
	windowSeconds int
	logger        *logrus.Logger
	metrics       *metrics.PrometheusMetrics
	now           func() time.Time
}

type Option func(*Processor)

func WithDetector(d Detector) Option {
	return func(p *Processor) {
		p.detector = d
	}
}

func WithFlowSink(sink storage.FlowSink) Option {
	return func(p *Processor) {
		p.flowSinks = append(p.flowSinks, sink)
	}
}

// WithMetrics records pipeline metrics and attaches them to the engine.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// Result is what one run produced
type Result struct {
	RunID  string
	Flows  []model.Flow
	Alerts []model.Alert
}

func NewProcessor(engine *rules.Engine, windowSeconds int, logger *logrus.Logger, opts ...Option) *Processor {
	p := &Processor{
		engine:        engine,
		windowSeconds: windowSeconds,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	// alerts are counted where the engine emits them
	if p.metrics != nil {
		engine.SetMetrics(p.metrics)
	}
	return p
}

// Run processes events as one batch. Only an invalid window or an event
// without addresses fails the run; sink and detector failures are logged.
func (p *Processor) Run(ctx context.Context, events []model.Event) (*Result, error) {
	started := time.Now()
	result := &Result{RunID: uuid.NewString()}
	log := p.logger.WithField("run_id", result.RunID)

	startup := model.NewStartupAlert(p.now())
	p.engine.EmitAlert(startup)
	result.Alerts = append(result.Alerts, startup)

	flows, err := aggregator.BuildFlows(events, p.windowSeconds)
	if err != nil {
		return result, err
	}
	result.Flows = flows
	for i := range flows {
		p.metrics.RecordFlow(&flows[i])
	}
	log.Infof("Built %d flows from %d events", len(flows), len(events))

	for _, sink := range p.flowSinks {
		if err := sink.WriteFlows(ctx, flows); err != nil {
			log.WithField("sink", fmt.Sprintf("%T", sink)).Errorf("Failed to persist flows: %v", err)
			p.metrics.RecordSinkError(fmt.Sprintf("%T", sink))
		}
	}

	ruleAlerts := p.engine.Run(ctx, flows)
	result.Alerts = append(result.Alerts, ruleAlerts...)
	log.Infof("Rules raised %d alerts", len(ruleAlerts))

	if p.detector != nil && ctx.Err() == nil {
		anomalies, err := p.safeDetect(ctx, flows)
		if err != nil {
			log.WithField("detector", anomalyDetectorName).Errorf("Anomaly detection failed: %v", err)
			p.metrics.RecordDetectorFailure(anomalyDetectorName)
		}
		for _, alert := range anomalies {
			p.engine.EmitAlert(alert)
		}
		result.Alerts = append(result.Alerts, anomalies...)
		log.Infof("Anomaly detector raised %d alerts", len(anomalies))
	}

	p.metrics.ObservePipeline(time.Since(started).Seconds())
	return result, nil
}

func (p *Processor) safeDetect(ctx context.Context, flows []model.Flow) (alerts []model.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alerts = nil
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return p.detector.Detect(ctx, flows)
}
