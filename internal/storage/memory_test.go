package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *MemoryStore {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewMemoryStore(logger)
}

func alertAt(sec int, severity string) model.Alert {
	return model.Alert{
		Time:       time.Date(2024, 5, 1, 8, 0, sec, 0, time.UTC),
		Type:       model.AlertTypeTrafficSpike,
		Severity:   severity,
		Confidence: 0.6,
		Evidence:   model.Evidence{"pkt_count": 600},
	}
}

func TestMemoryStoreAlertOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.AddAlert(ctx, alertAt(5, model.SeverityMedium))
	require.NoError(t, err)
	_, err = s.AddAlert(ctx, alertAt(9, model.SeverityHigh))
	require.NoError(t, err)
	_, err = s.AddAlert(ctx, alertAt(5, model.SeverityLow))
	require.NoError(t, err)

	alerts, err := s.LatestAlerts(ctx, 0, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, []int64{2, 3, 1}, []int64{alerts[0].ID, alerts[1].ID, alerts[2].ID})

	limited, err := s.LatestAlerts(ctx, 1, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(2), limited[0].ID)

	filtered, err := s.LatestAlerts(ctx, 10, AlertFilter{Severity: model.SeverityLow})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(3), filtered[0].ID)
}

func TestMemoryStoreAlertByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	id, err := s.AddAlert(ctx, alertAt(1, model.SeverityHigh))
	require.NoError(t, err)

	got, err := s.AlertByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityHigh, got.Severity)

	_, err = s.AlertByID(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSeverityCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	for _, sev := range []string{model.SeverityHigh, model.SeverityHigh, model.SeverityLow} {
		_, err := s.AddAlert(ctx, alertAt(0, sev))
		require.NoError(t, err)
	}

	counts, err := s.SeverityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"HIGH": 2, "LOW": 1}, counts)
}

func TestMemoryStoreFlowsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	flows := []model.Flow{
		{PktCount: 1},
		{PktCount: 2},
		{PktCount: 3},
	}
	require.NoError(t, StoreFlowSink{Store: s}.WriteFlows(ctx, flows))

	got, err := s.LatestFlows(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].PktCount)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(2), got[1].PktCount)
}

func TestMemoryStoreBroadcastsAlerts(t *testing.T) {
	s := newTestStore()
	high := s.SubscribeAlerts(AlertFilter{Severity: model.SeverityHigh}, 4)
	all := s.SubscribeAlerts(AlertFilter{}, 4)
	assert.Equal(t, 2, s.SubscriberCount())

	require.NoError(t, AlertWriter{Store: s}.SendAlert(alertAt(1, model.SeverityLow)))
	require.NoError(t, AlertWriter{Store: s}.SendAlert(alertAt(2, model.SeverityHigh)))

	got := <-high.Channel
	assert.Equal(t, int64(2), got.ID)
	assert.Len(t, all.Channel, 2)

	s.UnsubscribeAlerts(high)
	s.UnsubscribeAlerts(high)
	_, open := <-high.Channel
	assert.False(t, open)
	assert.Equal(t, 1, s.SubscriberCount())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultAlertLimit, ClampLimit(0))
	assert.Equal(t, DefaultAlertLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxAlertLimit, ClampLimit(5000))
}
