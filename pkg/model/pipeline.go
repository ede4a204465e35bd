package model

import (
	"context"
	"sync"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/logger"
)

// Aux timer cadences
const (
	zonesInterval   = 30 * time.Second
	alertsInterval  = 2 * time.Second
	weatherInterval = 300 * time.Second
)

// ChangeKind classifies a detected raw-data change
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeRemove
)

// Change is one add/remove detected by a subscription loop
type Change struct {
	ID   string
	Kind ChangeKind
}

// AuxHooks are the per-device fetchers the subscription layer provides.
// Each hook refreshes its slice of the entry's value bag; the pipeline
// re-projects and emits UPDATE after a successful call.
type AuxHooks struct {
	Zones   func(ctx context.Context, id string) error // REST cameras
	Alerts  func(ctx context.Context, id string) error // Cameras, both sources
	Weather func(ctx context.Context, id string) error // Structures
}

// Pipeline applies the post-subscribe sequence: removes, adds with aux
// timer start, then a full re-projection sweep.
type Pipeline struct {
	store     *Store
	projector *Projector
	bus       *Bus
	hooks     AuxHooks
	log       *logger.Logger

	mu     sync.Mutex
	stops  map[string][]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewPipeline(store *Store, projector *Projector, bus *Bus, hooks AuxHooks, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{
		store:     store,
		projector: projector,
		bus:       bus,
		hooks:     hooks,
		log:       log.With("component", "pipeline"),
		stops:     make(map[string][]chan struct{}),
	}
}

// Run applies one batch of changes and re-projects the store
func (pl *Pipeline) Run(changes []Change) {
	for _, ch := range changes {
		if ch.Kind != ChangeRemove {
			continue
		}
		pl.stopTimers(ch.ID)
		pl.store.Delete(ch.ID)
		pl.bus.Emit(Event{UUID: ch.ID, Type: EventRemove})
		pl.log.Info("device removed", "uuid", ch.ID)
	}

	for _, ch := range changes {
		if ch.Kind != ChangeAdd {
			continue
		}
		d, ok := pl.projector.Project(ch.ID)
		if !ok {
			continue
		}
		if d.Excluded {
			pl.log.Info("device excluded by configuration", "uuid", ch.ID, "serial", d.Serial)
			continue
		}
		pl.startTimers(d)
		pl.bus.Emit(Event{UUID: ch.ID, Type: EventAdd, Device: d})
		pl.log.Info("device added", "uuid", ch.ID, "kind", string(d.Kind), "serial", d.Serial)
	}

	for _, d := range pl.projector.ProjectAll() {
		if d.Excluded {
			continue
		}
		pl.bus.Emit(Event{UUID: d.UUID, Type: EventUpdate, Device: d})
	}
}

// startTimers arms the kind-specific aux tickers for a newly added device
func (pl *Pipeline) startTimers(d *Device) {
	switch d.Kind {
	case KindCamera, KindDoorbell, KindFloodlight:
		if d.Source == SourceREST && pl.hooks.Zones != nil {
			pl.startTicker(d.UUID, zonesInterval, pl.hooks.Zones)
		}
		if pl.hooks.Alerts != nil {
			pl.startTicker(d.UUID, alertsInterval, pl.hooks.Alerts)
		}
	case KindWeather:
		if pl.hooks.Weather != nil {
			pl.startTicker(d.UUID, weatherInterval, pl.hooks.Weather)
		}
	}
}

// startTicker runs one hook on a cadence until the device is removed
func (pl *Pipeline) startTicker(id string, interval time.Duration, hook func(context.Context, string) error) {
	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	pl.stops[id] = append(pl.stops[id], stop)
	pl.mu.Unlock()

	pl.wg.Add(1)
	go func() {
		defer pl.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				err := hook(ctx, id)
				cancel()
				if err != nil {
					pl.log.Debug("aux fetch failed", "uuid", id, "error", err)
					continue
				}
				if d, ok := pl.projector.Project(id); ok && !d.Excluded {
					pl.bus.Emit(Event{UUID: id, Type: EventUpdate, Device: d})
				}
			}
		}
	}()
}

// stopTimers cancels every aux ticker for the device
func (pl *Pipeline) stopTimers(id string) {
	pl.mu.Lock()
	stops := pl.stops[id]
	delete(pl.stops, id)
	pl.mu.Unlock()
	for _, stop := range stops {
		close(stop)
	}
}

// Close stops every ticker and waits for them to exit
func (pl *Pipeline) Close() {
	pl.mu.Lock()
	pl.closed = true
	all := pl.stops
	pl.stops = make(map[string][]chan struct{})
	pl.mu.Unlock()

	for _, stops := range all {
		for _, stop := range stops {
			close(stop)
		}
	}
	pl.wg.Wait()
}
