package anomaly

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"hybrid-ids/internal/metrics"
	"hybrid-ids/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var windowStart = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func defaultConfig() Config {
	return Config{NEstimators: DefaultEstimators, Contamination: DefaultContamination, Seed: DefaultSeed}
}

// baselineFlows returns ordinary flows whose features vary independently.
// When n >= 10 the last flow is a heavy talker that is largest on every
// feature, so anything beyond it lands in the same leaves.
func baselineFlows(n int) []model.Flow {
	flows := make([]model.Flow, n)
	for i := range flows {
		flows[i] = model.Flow{
			WindowStart:    windowStart,
			WindowEnd:      windowStart.Add(10 * time.Second),
			SrcIP:          model.StringPtr("10.0.0.1"),
			DstIP:          model.StringPtr("10.0.0.2"),
			Protocol:       model.StringPtr(model.ProtocolTCP),
			PktCount:       int64(10 + i%7),
			ByteCount:      int64(1000 + (i*37)%500),
			UniqueDstPorts: int64(1 + (i*3)%5),
			SynCount:       int64(i % 4),
			RstCount:       int64((i * 5) % 3),
			DNSQueryCount:  int64((i * 2) % 6),
		}
	}
	if n >= 10 {
		heavy := &flows[n-1]
		heavy.PktCount = 60
		heavy.ByteCount = 20000
		heavy.UniqueDstPorts = 30
		heavy.SynCount = 20
		heavy.RstCount = 10
		heavy.DNSQueryCount = 25
	}
	return flows
}

func extremeFlow() model.Flow {
	return model.Flow{
		WindowStart:    windowStart,
		WindowEnd:      windowStart.Add(10 * time.Second),
		SrcIP:          model.StringPtr("10.6.6.6"),
		DstIP:          model.StringPtr("10.0.0.2"),
		Protocol:       model.StringPtr(model.ProtocolTCP),
		PktCount:       100000,
		ByteCount:      150_000_000,
		UniqueDstPorts: 900,
		SynCount:       5000,
		RstCount:       4000,
		DNSQueryCount:  300,
	}
}

func TestDetectorStaysUntrainedBelowMinimum(t *testing.T) {
	store := NewMemoryArtifactStore()
	d, err := NewDetector(defaultConfig(), store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Untrained, d.State())

	alerts, err := d.Detect(context.Background(), baselineFlows(9))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, Untrained, d.State())

	_, err = store.Load(ArtifactModel)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestDetectorBootstrapThenScore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	d, err := NewDetector(defaultConfig(), NewMemoryArtifactStore(), quietLogger(), WithMetrics(m), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	alerts, err := d.Detect(context.Background(), baselineFlows(40))
	require.NoError(t, err)
	assert.Empty(t, alerts, "the training batch never raises alerts")
	assert.Equal(t, Trained, d.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScorerTrained))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelTrainings))

	alerts, err = d.Detect(context.Background(), []model.Flow{extremeFlow()})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, model.AlertTypeAnomalousFlow, a.Type)
	assert.Equal(t, model.SeverityHigh, a.Severity)
	assert.Equal(t, now, a.Time)
	assert.GreaterOrEqual(t, a.Confidence, 0.0)
	assert.LessOrEqual(t, a.Confidence, 1.0)
	assert.Equal(t, "10.6.6.6", *a.SrcIP)

	score, ok := a.Evidence["score"].(float64)
	require.True(t, ok)
	assert.Less(t, score, 0.0)
	features, ok := a.Evidence["features"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(100000), features["pkt_count"])
	assert.NotContains(t, features, "rst_count")
	assert.NotContains(t, features, "failed_login_count")
	assert.Equal(t, []string{"2024-05-01T08:00:00+00:00", "2024-05-01T08:00:10+00:00"}, a.Evidence["window"])
}

func TestDetectorScoreRequiresTraining(t *testing.T) {
	d, err := NewDetector(defaultConfig(), nil, quietLogger())
	require.NoError(t, err)

	flow := extremeFlow()
	_, _, err = d.Score(&flow)
	assert.Error(t, err)
}

func TestDetectorPersistsAndReloadsArtifacts(t *testing.T) {
	dir := t.TempDir()
	store := NewFileArtifactStore(filepath.Join(dir, "baseline"), "", "")

	first, err := NewDetector(defaultConfig(), store, quietLogger())
	require.NoError(t, err)
	state, err := first.Fit(baselineFlows(30))
	require.NoError(t, err)
	assert.Equal(t, Trained, state)

	second, err := NewDetector(defaultConfig(), store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Trained, second.State())

	flow := extremeFlow()
	wantOutlier, wantScore, err := first.Score(&flow)
	require.NoError(t, err)
	gotOutlier, gotScore, err := second.Score(&flow)
	require.NoError(t, err)
	assert.Equal(t, wantOutlier, gotOutlier)
	assert.InDelta(t, wantScore, gotScore, 1e-12)
}

func TestDetectorMissingScalerMeansUntrained(t *testing.T) {
	store := NewMemoryArtifactStore()
	forest := NewIsolationForest(10, DefaultContamination, DefaultSeed)
	require.NoError(t, forest.Fit([][]float64{{1}, {2}, {3}}))
	blob, err := forest.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, store.Save(ArtifactModel, blob))

	d, err := NewDetector(defaultConfig(), store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Untrained, d.State())
}

func TestDetectorCorruptArtifactIsAnError(t *testing.T) {
	store := NewMemoryArtifactStore()
	require.NoError(t, store.Save(ArtifactModel, []byte("not gob")))
	require.NoError(t, store.Save(ArtifactScaler, []byte("not gob")))

	_, err := NewDetector(defaultConfig(), store, quietLogger())
	assert.Error(t, err)
}

type constantModel struct{ score float64 }

func (c *constantModel) Fit([][]float64) error { return nil }
func (c *constantModel) Predict(x []float64) int {
	if c.score < 0 {
		return -1
	}
	return 1
}
func (c *constantModel) DecisionFunction([]float64) float64 { return c.score }

func TestDetectorConfidenceIsClamped(t *testing.T) {
	d, err := NewDetector(defaultConfig(), NewMemoryArtifactStore(), quietLogger(),
		WithBackend(func() Model { return &constantModel{score: -3.5} }))
	require.NoError(t, err)

	_, err = d.Fit(baselineFlows(12))
	require.NoError(t, err)

	alerts, err := d.Detect(context.Background(), baselineFlows(2))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, 1.0, alerts[0].Confidence)
	assert.Equal(t, -3.5, alerts[0].Evidence["score"])
}

// flakyModel panics on its first score and calls every later flow an outlier
type flakyModel struct{ calls int }

func (f *flakyModel) Fit([][]float64) error { return nil }
func (f *flakyModel) Predict([]float64) int  { return -1 }
func (f *flakyModel) DecisionFunction([]float64) float64 {
	f.calls++
	if f.calls == 1 {
		panic("corrupt tree")
	}
	return -0.4
}

func TestDetectorSkipsFlowThatFailsToScore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)
	d, err := NewDetector(defaultConfig(), NewMemoryArtifactStore(), quietLogger(),
		WithMetrics(m), WithBackend(func() Model { return &flakyModel{} }))
	require.NoError(t, err)

	_, err = d.Fit(baselineFlows(12))
	require.NoError(t, err)

	alerts, err := d.Detect(context.Background(), baselineFlows(3))
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
	assert.Equal(t, 0.4, alerts[0].Confidence)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectorFailures.WithLabelValues("anomaly")))
}
