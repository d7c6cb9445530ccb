package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type AlertSubscriber struct {
	ID       string
	Channel  chan StoredAlert
	Filter   AlertFilter
	LastSeen time.Time
}

// Broadcaster fans stored alerts out to live subscribers. A subscriber whose
// channel is full misses the alert.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*AlertSubscriber]bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*AlertSubscriber]bool)}
}

func (b *Broadcaster) SubscribeAlerts(filter AlertFilter, buffer int) *AlertSubscriber {
	if buffer <= 0 {
		buffer = 100
	}
	sub := &AlertSubscriber{
		ID:       uuid.NewString(),
		Channel:  make(chan StoredAlert, buffer),
		Filter:   filter,
		LastSeen: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = true
	return sub
}

func (b *Broadcaster) UnsubscribeAlerts(sub *AlertSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.Channel)
	}
}

func (b *Broadcaster) Publish(alert StoredAlert) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if !sub.Filter.Match(&alert.Alert) {
			continue
		}
		select {
		case sub.Channel <- alert:
			sub.LastSeen = time.Now()
		default:
			// Channel full, skip
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
