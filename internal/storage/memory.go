package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"hybrid-ids/internal/model"

	"github.com/sirupsen/logrus"
)

// MemoryStore keeps the most recent flows and alerts in process memory
type MemoryStore struct {
	*Broadcaster

	mu          sync.RWMutex
	alerts      []StoredAlert
	flows       []StoredFlow
	nextAlertID int64
	nextFlowID  int64
	maxAlerts   int
	maxFlows    int
	logger      *logrus.Logger
}

func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		Broadcaster: NewBroadcaster(),
		alerts:      make([]StoredAlert, 0),
		flows:       make([]StoredFlow, 0),
		maxAlerts:   10000, // Keep last 10k alerts
		maxFlows:    50000, // Keep last 50k flows
		logger:      logger,
	}
}

func (s *MemoryStore) AddAlert(_ context.Context, alert model.Alert) (int64, error) {
	s.mu.Lock()
	s.nextAlertID++
	stored := StoredAlert{ID: s.nextAlertID, Alert: alert}
	if stored.Time.IsZero() {
		stored.Time = time.Now().UTC()
	}
	s.alerts = append(s.alerts, stored)
	if len(s.alerts) > s.maxAlerts {
		s.alerts = s.alerts[len(s.alerts)-s.maxAlerts:]
	}
	s.mu.Unlock()

	s.Publish(stored)
	return stored.ID, nil
}

func (s *MemoryStore) AddFlow(_ context.Context, flow model.Flow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextFlowID++
	s.flows = append(s.flows, StoredFlow{ID: s.nextFlowID, Flow: flow})
	if len(s.flows) > s.maxFlows {
		s.flows = s.flows[len(s.flows)-s.maxFlows:]
	}
	return s.nextFlowID, nil
}

func (s *MemoryStore) LatestAlerts(_ context.Context, limit int, filter AlertFilter) ([]StoredAlert, error) {
	limit = ClampLimit(limit)

	s.mu.RLock()
	matched := make([]StoredAlert, 0, len(s.alerts))
	for i := range s.alerts {
		if filter.Match(&s.alerts[i].Alert) {
			matched = append(matched, s.alerts[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Time.Equal(matched[j].Time) {
			return matched[i].Time.After(matched[j].Time)
		}
		return matched[i].ID > matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) AlertByID(_ context.Context, id int64) (*StoredAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			alert := s.alerts[i]
			return &alert, nil
		}
	}
	return nil, ErrNotFound
}

// LatestFlows returns the newest flows first.
func (s *MemoryStore) LatestFlows(_ context.Context, limit int) ([]StoredFlow, error) {
	limit = ClampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]StoredFlow, 0, limit)
	for i := len(s.flows) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.flows[i])
	}
	return result, nil
}

func (s *MemoryStore) SeverityCounts(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for i := range s.alerts {
		counts[s.alerts[i].Severity]++
	}
	return counts, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
