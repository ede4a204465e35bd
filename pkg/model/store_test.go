package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSourceImmutableAfterCreate(t *testing.T) {
	s := NewStore()
	s.Upsert("device.A", SourceREST, "conn1", 1, 100, map[string]any{"x": 1.0})

	// A trait write to the same id merges but cannot flip the source
	s.Upsert("device.A", SourceTrait, "conn2", 2, 200, map[string]any{"y": 2.0})

	e, ok := s.Get("device.A")
	require.True(t, ok)
	assert.Equal(t, SourceREST, e.Source)
	assert.Equal(t, "conn1", e.Connection, "first writer keeps ownership")
	assert.Equal(t, 1.0, e.Value["x"])
	assert.Equal(t, 2.0, e.Value["y"], "values still merge")
}

func TestStoreRevisionsNeverDecrease(t *testing.T) {
	s := NewStore()
	s.Upsert("device.A", SourceREST, "c", 5, 500, map[string]any{})
	s.Upsert("device.A", SourceREST, "c", 3, 300, map[string]any{})

	e, _ := s.Get("device.A")
	assert.Equal(t, int64(5), e.Revision)
	assert.Equal(t, int64(500), e.Timestamp)
}

func TestStoreDeepMerge(t *testing.T) {
	s := NewStore()
	s.Upsert("quartz.C", SourceREST, "c", 1, 1, map[string]any{
		"properties": map[string]any{"streaming.enabled": true, "audio.enabled": true},
	})
	s.Upsert("quartz.C", SourceREST, "c", 2, 2, map[string]any{
		"properties": map[string]any{"streaming.enabled": false},
	})

	e, _ := s.Get("quartz.C")
	props := e.Value["properties"].(map[string]any)
	assert.Equal(t, false, props["streaming.enabled"])
	assert.Equal(t, true, props["audio.enabled"], "untouched nested keys survive a merge")
}

func TestStoreGetReturnsIsolatedCopy(t *testing.T) {
	s := NewStore()
	s.Upsert("device.A", SourceREST, "c", 1, 1, map[string]any{
		"nested": map[string]any{"k": "v"},
	})

	e, _ := s.Get("device.A")
	e.Value["nested"].(map[string]any)["k"] = "mutated"

	again, _ := s.Get("device.A")
	assert.Equal(t, "v", again.Value["nested"].(map[string]any)["k"])
}

func TestStoreMergeKey(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.MergeKey("kryptonite.K", "associated_thermostat", "device.T"), ErrNoEntry)

	s.Upsert("kryptonite.K", SourceREST, "c", 1, 1, map[string]any{})
	require.NoError(t, s.MergeKey("kryptonite.K", "associated_thermostat", "device.T"))

	e, _ := s.Get("kryptonite.K")
	assert.Equal(t, "device.T", e.Value["associated_thermostat"])
}

func TestSubscribeTuplesFiltersByConnectionAndSource(t *testing.T) {
	s := NewStore()
	s.Upsert("device.A", SourceREST, "conn1", 4, 40, map[string]any{})
	s.Upsert("device.B", SourceREST, "conn2", 5, 50, map[string]any{})
	s.Upsert("DEVICE_X", SourceTrait, "conn1", 6, 60, map[string]any{})

	tuples := s.SubscribeTuples("conn1")
	require.Len(t, tuples, 1)
	assert.Equal(t, "device.A", tuples[0].ID)
	assert.Equal(t, int64(4), tuples[0].Revision)
}
