package server

import (
	"encoding/json"
	"sync"

	"github.com/playperu/checkin/internal/checkin"
)

const (
	EventStatus = "status"
	EventScan   = "scan"
)

// Event is the payload pushed to SSE subscribers.
type Event struct {
	Type   string               `json:"type"`
	Status *checkin.SyncStatus  `json:"status,omitempty"`
	Scan   *checkin.ScanOutcome `json:"scan,omitempty"`
}

// Broker is an in-process fan-out of events to every connected subscriber.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()
}

func (ev Event) data() []byte {
	data, _ := json.Marshal(ev)
	return data
}
