// Package model holds the raw-data store shared by both subscription
// sources, the canonical device records, and the projector that derives
// devices from raw values.
package model

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Source tags which subscription wrote an entry. It is set at creation and
// never changes.
type Source string

const (
	SourceREST  Source = "rest"
	SourceTrait Source = "trait"
)

// ErrNoEntry is returned when a resource id is not in the store
var ErrNoEntry = errors.New("no entry for resource id")

// Entry is one raw resource: the value bag plus subscribe-resumption state
type Entry struct {
	ID         string
	Source     Source
	Connection string // Owning connection id; first writer wins
	Revision   int64
	Timestamp  int64
	Value      map[string]any
}

// Store maps resource ids to entries. All access is serialized by one
// mutex; the subscription loops are the only writers.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Upsert merges a value into the entry for id, creating it on first write.
// Source and owning connection are fixed by the creator; a different
// connection's write still merges values but never takes ownership.
// Revisions only move forward.
func (s *Store) Upsert(id string, source Source, connection string, revision, timestamp int64, value map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		s.entries[id] = &Entry{
			ID:         id,
			Source:     source,
			Connection: connection,
			Revision:   revision,
			Timestamp:  timestamp,
			Value:      copyValue(value),
		}
		return
	}

	mergeValue(e.Value, value)
	if revision > e.Revision {
		e.Revision = revision
	}
	if timestamp > e.Timestamp {
		e.Timestamp = timestamp
	}
}

// MergeKey merges one key into an existing entry's value bag
func (s *Store) MergeKey(id, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNoEntry
	}
	if m, ok := value.(map[string]any); ok {
		if existing, ok := e.Value[key].(map[string]any); ok {
			mergeValue(existing, m)
			return nil
		}
	}
	e.Value[key] = value
	return nil
}

// Get returns a snapshot copy of the entry
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return s.snapshotLocked(e), true
}

// Delete removes the entry for id
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// IDs returns every resource id, sorted for deterministic iteration
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IDsWithPrefix returns the sorted resource ids with the given prefix
func (s *Store) IDsWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id := range s.entries {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SubscribeTuples returns (id, revision, timestamp) for every REST entry
// owned by the connection, for the v6 subscribe body.
func (s *Store) SubscribeTuples(connection string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Source == SourceREST && e.Connection == connection {
			out = append(out, Entry{ID: e.ID, Revision: e.Revision, Timestamp: e.Timestamp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) snapshotLocked(e *Entry) Entry {
	return Entry{
		ID:         e.ID,
		Source:     e.Source,
		Connection: e.Connection,
		Revision:   e.Revision,
		Timestamp:  e.Timestamp,
		Value:      copyValue(e.Value),
	}
}
