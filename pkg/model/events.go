package model

import (
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
)

// EventType classifies a device change event
type EventType int

const (
	EventAdd EventType = iota
	EventUpdate
	EventRemove
)

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventUpdate:
		return "update"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one device change delivered to the host side. Remove events
// carry a nil device.
type Event struct {
	UUID   string
	Type   EventType
	Device *Device
}

// busDepth bounds the event channel. Emission never blocks the mutating
// loop; overflow drops the event with a warning.
const busDepth = 256

// Bus is the buffered device-event fan-out to the host integration
type Bus struct {
	ch  chan Event
	log *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Default()
	}
	return &Bus{
		ch:  make(chan Event, busDepth),
		log: log.With("component", "events"),
	}
}

// Events returns the receive side of the bus
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Emit publishes one event without blocking
func (b *Bus) Emit(e Event) {
	select {
	case b.ch <- e:
	default:
		b.log.Warn("event bus full, dropping event", "uuid", e.UUID, "type", e.Type.String())
	}
}
