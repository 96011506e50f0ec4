package state

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// LiveValues is the latest reading reported by the device: photovoltaic
// power, battery state, grid injection and friends. Fields are kept as a
// flat map because the set varies across firmware versions; known keys get
// typed accessors.
type LiveValues map[string]float64

// PVPower returns the photovoltaic power reading, if present.
func (v LiveValues) PVPower() (float64, bool) {
	p, ok := v["pv_power"]
	return p, ok
}

// BatteryState returns the battery state of charge, if present.
func (v LiveValues) BatteryState() (float64, bool) {
	p, ok := v["battery_state"]
	return p, ok
}

// InjectionPower returns the current grid injection power, if present.
func (v LiveValues) InjectionPower() (float64, bool) {
	p, ok := v["inject_power"]
	return p, ok
}

// DecodeLiveValues parses a live_values response payload. Non-numeric
// fields are ignored.
func DecodeLiveValues(raw json.RawMessage) (LiveValues, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	vals := make(LiveValues, len(generic))
	for k, v := range generic {
		if f, ok := v.(float64); ok {
			vals[k] = f
		}
	}
	return vals, nil
}

// Snapshot is a copy of all tracked device state.
type Snapshot struct {
	Live      LiveValues `json:"live"`
	Online    bool       `json:"online"`
	Connected bool       `json:"connected"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EventType identifies event categories.
type EventType string

const (
	EventLiveValues   EventType = "live_values"
	EventOnline       EventType = "online"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event represents a state change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// --- EventBus ---

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers. Slow subscribers with a full
// buffer miss the event rather than block the publisher.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		// drain anything already buffered
		for {
			select {
			case <-ch:
			default:
				return
			}
		}
	}
	return ch, unsub
}

// --- Store ---

// Store holds the current device state with thread-safe access.
type Store struct {
	mu        sync.RWMutex
	live      LiveValues
	online    bool
	connected bool
	updatedAt time.Time
	bus       *EventBus
	log       *slog.Logger
}

// NewStore creates a store wired to the event bus.
func NewStore(bus *EventBus, log *slog.Logger) *Store {
	return &Store{
		live: LiveValues{},
		bus:  bus,
		log:  log,
	}
}

// Snapshot returns a copy of all state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make(LiveValues, len(s.live))
	for k, v := range s.live {
		live[k] = v
	}
	return Snapshot{
		Live:      live,
		Online:    s.online,
		Connected: s.connected,
		UpdatedAt: s.updatedAt,
	}
}

// UpdateLiveValues replaces the live readings and publishes an event.
func (s *Store) UpdateLiveValues(vals LiveValues) {
	s.mu.Lock()
	s.live = vals
	s.updatedAt = time.Now()
	cp := make(LiveValues, len(vals))
	for k, v := range vals {
		cp[k] = v
	}
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventLiveValues, Data: cp})
}

// SetOnline updates the device-reported online flag.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.bus.Publish(Event{Type: EventOnline, Data: online})
	}
}

// SetConnected updates the WebSocket connection status.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()

	if connected {
		s.bus.Publish(Event{Type: EventConnected})
	} else {
		s.bus.Publish(Event{Type: EventDisconnected})
	}
}
