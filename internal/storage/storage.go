package storage

import (
	"context"
	"errors"
	"fmt"

	"hybrid-ids/internal/model"
)

var ErrNotFound = errors.New("not found")

const (
	DefaultAlertLimit = 50
	MaxAlertLimit     = 1000
)

// StoredAlert is an alert together with the id the store assigned to it
type StoredAlert struct {
	ID int64 `json:"id"`
	model.Alert
}

// StoredFlow is a flow together with the id the store assigned to it
type StoredFlow struct {
	ID int64 `json:"id"`
	model.Flow
}

type AlertFilter struct {
	Severity string
	Type     string
}

func (f AlertFilter) Match(a *model.Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && string(a.Type) != f.Type {
		return false
	}
	return true
}

// Store persists flows and alerts. Alert listings are ordered by time
// descending, then id descending.
type Store interface {
	AddFlow(ctx context.Context, flow model.Flow) (int64, error)
	AddAlert(ctx context.Context, alert model.Alert) (int64, error)
	LatestAlerts(ctx context.Context, limit int, filter AlertFilter) ([]StoredAlert, error)
	AlertByID(ctx context.Context, id int64) (*StoredAlert, error)
	LatestFlows(ctx context.Context, limit int) ([]StoredFlow, error)
	SeverityCounts(ctx context.Context) (map[string]int64, error)
	Close() error
}

// FlowSink receives every batch of flows before detection runs
type FlowSink interface {
	WriteFlows(ctx context.Context, flows []model.Flow) error
}

// StoreFlowSink writes flows one by one through a Store
type StoreFlowSink struct {
	Store Store
}

func (s StoreFlowSink) WriteFlows(ctx context.Context, flows []model.Flow) error {
	for i := range flows {
		if _, err := s.Store.AddFlow(ctx, flows[i]); err != nil {
			return fmt.Errorf("store flow %d: %w", i, err)
		}
	}
	return nil
}

// AlertWriter lets a Store act as an alert notifier
type AlertWriter struct {
	Store Store
}

func (w AlertWriter) SendAlert(alert model.Alert) error {
	_, err := w.Store.AddAlert(context.Background(), alert)
	return err
}

// ClampLimit applies the listing defaults: non-positive means the default,
// anything above MaxAlertLimit is capped.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultAlertLimit
	}
	if limit > MaxAlertLimit {
		return MaxAlertLimit
	}
	return limit
}
