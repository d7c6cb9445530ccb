package anomaly

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

// DefaultMinTrainingFlows is the smallest batch a baseline is fitted on
const DefaultMinTrainingFlows = 10

// detectorName labels scoring failures in the metrics
const detectorName = "anomaly"

type Config struct {
	MinTrainingFlows int
	NEstimators      int
	Contamination    float64
	Seed             int64
	Severity         string
}

// Detector scores flows against a baseline model. It starts UNTRAINED unless
// both artifacts can be loaded; the first batch of at least MinTrainingFlows
// flows it sees while untrained becomes the baseline.
type Detector struct {
	cfg      Config
	store    ArtifactStore
	newModel func() Model
	logger   *logrus.Logger
	metrics  *metrics.PrometheusMetrics
	now      func() time.Time

	mu     sync.RWMutex
	state  State
	model  Model
	scaler *StandardScaler
}

type Option func(*Detector)

// WithBackend swaps the isolation forest for another Model implementation.
// The backend is persisted only if it implements encoding.BinaryMarshaler
// and encoding.BinaryUnmarshaler.
func WithBackend(newModel func() Model) Option {
	return func(d *Detector) {
		d.newModel = newModel
	}
}

func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector builds a detector and loads any persisted baseline from store.
// Missing artifacts leave it UNTRAINED; unreadable ones are an error.
func NewDetector(cfg Config, store ArtifactStore, logger *logrus.Logger, opts ...Option) (*Detector, error) {
	if cfg.MinTrainingFlows <= 0 {
		cfg.MinTrainingFlows = DefaultMinTrainingFlows
	}
	if cfg.Severity == "" {
		cfg.Severity = model.SeverityHigh
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}

	d := &Detector{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	d.newModel = func() Model {
		return NewIsolationForest(cfg.NEstimators, cfg.Contamination, cfg.Seed)
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.load(); err != nil {
		return nil, err
	}
	d.metrics.SetScorerTrained(d.state == Trained)
	return d, nil
}

func (d *Detector) load() error {
	if d.store == nil {
		return nil
	}

	modelBlob, err := d.store.Load(ArtifactModel)
	if errors.Is(err, ErrArtifactNotFound) {
		d.logger.Infof("[Anomaly] No baseline model found, starting %s", Untrained)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load model artifact: %w", err)
	}
	scalerBlob, err := d.store.Load(ArtifactScaler)
	if errors.Is(err, ErrArtifactNotFound) {
		d.logger.Infof("[Anomaly] No scaler found, starting %s", Untrained)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load scaler artifact: %w", err)
	}

	m := d.newModel()
	u, ok := m.(encoding.BinaryUnmarshaler)
	if !ok {
		d.logger.Warnf("[Anomaly] Backend %T cannot be restored, starting %s", m, Untrained)
		return nil
	}
	if err := u.UnmarshalBinary(modelBlob); err != nil {
		return fmt.Errorf("restore model: %w", err)
	}
	scaler := &StandardScaler{}
	if err := scaler.UnmarshalBinary(scalerBlob); err != nil {
		return fmt.Errorf("restore scaler: %w", err)
	}

	d.model = m
	d.scaler = scaler
	d.state = Trained
	d.logger.Info("[Anomaly] Baseline model loaded")
	return nil
}

func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Fit trains a new baseline on flows. With fewer than MinTrainingFlows flows
// it does nothing. A failure to persist is returned, but the fitted model is
// kept in memory.
func (d *Detector) Fit(flows []model.Flow) (State, error) {
	if len(flows) < d.cfg.MinTrainingFlows {
		d.logger.Infof("[Anomaly] %d flows is below the training minimum of %d, staying %s",
			len(flows), d.cfg.MinTrainingFlows, d.State())
		return d.State(), nil
	}

	X := make([][]float64, len(flows))
	for i := range flows {
		X[i] = flows[i].FeatureVector()
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(X); err != nil {
		return d.State(), err
	}
	scaled := make([][]float64, len(X))
	for i, row := range X {
		s, err := scaler.Transform(row)
		if err != nil {
			return d.State(), err
		}
		scaled[i] = s
	}

	m := d.newModel()
	if err := m.Fit(scaled); err != nil {
		return d.State(), fmt.Errorf("fit model: %w", err)
	}

	d.mu.Lock()
	d.model = m
	d.scaler = scaler
	d.state = Trained
	d.mu.Unlock()

	d.metrics.RecordTraining()
	d.metrics.SetScorerTrained(true)
	d.logger.Infof("[Anomaly] Baseline trained on %d flows", len(flows))

	if err := d.persist(m, scaler); err != nil {
		return Trained, err
	}
	return Trained, nil
}

func (d *Detector) persist(m Model, scaler *StandardScaler) error {
	if d.store == nil {
		return nil
	}
	marshaler, ok := m.(encoding.BinaryMarshaler)
	if !ok {
		d.logger.Warnf("[Anomaly] Backend %T cannot be persisted", m)
		return nil
	}
	modelBlob, err := marshaler.MarshalBinary()
	if err != nil {
		return err
	}
	scalerBlob, err := scaler.MarshalBinary()
	if err != nil {
		return err
	}
	if err := d.store.Save(ArtifactModel, modelBlob); err != nil {
		return fmt.Errorf("save model artifact: %w", err)
	}
	if err := d.store.Save(ArtifactScaler, scalerBlob); err != nil {
		return fmt.Errorf("save scaler artifact: %w", err)
	}
	return nil
}

// Score standardizes the flow features and returns whether the model calls
// it an outlier together with the raw decision score.
func (d *Detector) Score(flow *model.Flow) (bool, float64, error) {
	d.mu.RLock()
	m, scaler, state := d.model, d.scaler, d.state
	d.mu.RUnlock()

	if state != Trained {
		return false, 0, errors.New("anomaly detector is not trained")
	}
	x, err := scaler.Transform(flow.FeatureVector())
	if err != nil {
		return false, 0, err
	}
	score := m.DecisionFunction(x)
	return m.Predict(x) == -1, score, nil
}

// Detect scores every flow and returns one alert per outlier. A flow that
// cannot be scored is logged and skipped. While UNTRAINED the batch is used
// for training instead and no alerts result.
func (d *Detector) Detect(ctx context.Context, flows []model.Flow) ([]model.Alert, error) {
	if d.State() != Trained {
		_, err := d.Fit(flows)
		return nil, err
	}

	var alerts []model.Alert
	for i := range flows {
		if err := ctx.Err(); err != nil {
			return alerts, err
		}
		flow := &flows[i]
		outlier, score, err := d.safeScore(flow)
		if err != nil {
			d.logger.Errorf("[Anomaly] Scoring flow %d failed: %v", i, err)
			d.metrics.RecordDetectorFailure(detectorName)
			continue
		}
		if !outlier {
			continue
		}
		d.logger.Debugf("[Anomaly] %s -> %s scored %.4f", model.Deref(flow.SrcIP), model.Deref(flow.DstIP), score)
		alerts = append(alerts, d.newAlert(flow, score))
	}
	return alerts, nil
}

func (d *Detector) safeScore(flow *model.Flow) (outlier bool, score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return d.Score(flow)
}

// newAlert builds the outlier alert. Confidence is min(1, |score|): a
// heuristic magnitude, not a calibrated probability.
func (d *Detector) newAlert(flow *model.Flow, score float64) model.Alert {
	return model.Alert{
		Time:       d.now(),
		Type:       model.AlertTypeAnomalousFlow,
		Severity:   d.cfg.Severity,
		Confidence: math.Min(1.0, math.Abs(score)),
		SrcIP:      flow.SrcIP,
		DstIP:      flow.DstIP,
		Evidence: model.Evidence{
			"score": score,
			"features": map[string]interface{}{
				"pkt_count":        flow.PktCount,
				"byte_count":       flow.ByteCount,
				"unique_dst_ports": flow.UniqueDstPorts,
				"syn_count":        flow.SynCount,
				"dns_query_count":  flow.DNSQueryCount,
			},
			"window": flow.Window(),
		},
	}
}
