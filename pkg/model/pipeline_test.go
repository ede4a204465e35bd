package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(bus *Bus) []Event {
	var out []Event
	for {
		select {
		case e := <-bus.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestPipelineAddRemoveUpdate(t *testing.T) {
	s := NewStore()
	s.Upsert("topaz.P1", SourceREST, "c", 1, 1, map[string]any{"serial_number": "AAA111"})
	s.Upsert("topaz.P2", SourceREST, "c", 1, 1, map[string]any{"serial_number": "BBB222"})

	bus := NewBus(nil)
	pl := NewPipeline(s, newTestProjector(s, nil), bus, AuxHooks{}, nil)
	defer pl.Close()

	pl.Run([]Change{
		{ID: "topaz.P1", Kind: ChangeAdd},
		{ID: "topaz.P2", Kind: ChangeRemove},
	})

	events := collectEvents(bus)

	var adds, removes, updates []string
	for _, e := range events {
		switch e.Type {
		case EventAdd:
			adds = append(adds, e.UUID)
			require.NotNil(t, e.Device)
		case EventRemove:
			removes = append(removes, e.UUID)
		case EventUpdate:
			updates = append(updates, e.UUID)
		}
	}

	assert.Equal(t, []string{"topaz.P1"}, adds)
	assert.Equal(t, []string{"topaz.P2"}, removes)
	assert.Equal(t, []string{"topaz.P1"}, updates, "the sweep only updates surviving devices")

	_, ok := s.Get("topaz.P2")
	assert.False(t, ok, "removed entries leave the store")
}

func TestPipelineSkipsExcludedDevices(t *testing.T) {
	s := NewStore()
	s.Upsert("topaz.P1", SourceREST, "c", 1, 1, map[string]any{"serial_number": "AAA111"})

	bus := NewBus(nil)
	pl := NewPipeline(s, newTestProjector(s, map[string]bool{"AAA111": true}), bus, AuxHooks{}, nil)
	defer pl.Close()

	pl.Run([]Change{{ID: "topaz.P1", Kind: ChangeAdd}})

	assert.Empty(t, collectEvents(bus), "excluded devices emit nothing")
}

func TestBusEmitNeverBlocks(t *testing.T) {
	bus := NewBus(nil)
	for i := 0; i < busDepth+10; i++ {
		bus.Emit(Event{UUID: "device.X", Type: EventUpdate})
	}
	assert.Len(t, collectEvents(bus), busDepth, "overflow drops instead of blocking")
}
