package trait

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/nest-nexus-bridge/pkg/account"
	"github.com/ethan/nest-nexus-bridge/pkg/config"
	"github.com/ethan/nest-nexus-bridge/pkg/model"
)

func newAuthorizedConn(t *testing.T) *account.Connection {
	t.Helper()

	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"session_token": "S"}},
		})
	}))
	t.Cleanup(login.Close)

	session := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"userid": "U",
			"urls":   map[string]string{"transport_url": "http://unused"},
		})
	}))
	t.Cleanup(session.Close)

	conn := account.NewConnection(config.Account{
		Kind:        config.AccountNative,
		AccessToken: "tok",
	}, false)
	conn.Endpoints.LoginNest = login.URL
	conn.Endpoints.Session = session.URL
	require.NoError(t, conn.Authorize(context.Background(), http.DefaultClient))
	return conn
}

func newTestObserver(t *testing.T) (*Observer, *model.Store, *model.Bus) {
	t.Helper()
	store := model.NewStore()
	bus := model.NewBus(nil)
	pl := model.NewPipeline(store, model.NewProjector(store, nil, nil), bus, model.AuxHooks{}, nil)
	t.Cleanup(pl.Close)
	return NewObserver(newAuthorizedConn(t), store, pl, nil), store, bus
}

func TestReconcilePrefersAccepted(t *testing.T) {
	pending := TraitState{
		ResourceID: "DEVICE_1", TraitLabel: "target_temperature_settings",
		Values: map[string]any{"pending": true}, StateTypes: []int{StateTypeConfirmed},
	}
	accepted := TraitState{
		ResourceID: "DEVICE_1", TraitLabel: "target_temperature_settings",
		Values: map[string]any{"pending": false}, StateTypes: []int{StateTypeConfirmed, StateTypeAccepted},
	}
	other := TraitState{
		ResourceID: "DEVICE_2", TraitLabel: "label",
		Values: map[string]any{}, StateTypes: []int{StateTypeConfirmed},
	}

	out := Reconcile([]TraitState{pending, accepted, other})
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"pending": false}, out[0].Values,
		"the accepted copy replaces the pending one")
	assert.Equal(t, "DEVICE_2", out[1].ResourceID)

	// Order flipped: the accepted copy arrives first and stays
	out = Reconcile([]TraitState{accepted, pending})
	require.Len(t, out, 1)
	assert.True(t, out[0].Accepted())
}

func TestHandleBatchMergesAndStripsType(t *testing.T) {
	o, store, _ := newTestObserver(t)

	o.handleBatch(context.Background(), &Batch{
		TraitStates: []TraitState{{
			ResourceID: "DEVICE_1",
			TraitLabel: "device_identity",
			Values: map[string]any{
				"@type":        "type.nestlabs.com/weave.trait.description.DeviceIdentityTrait",
				"serialNumber": "02AA01AB",
			},
		}},
	})

	e, ok := store.Get("DEVICE_1")
	require.True(t, ok)
	assert.Equal(t, model.SourceTrait, e.Source)

	identity := e.Value["device_identity"].(map[string]any)
	assert.Equal(t, "02AA01AB", identity["serialNumber"])
	assert.NotContains(t, identity, "@type")
}

func TestHandleBatchRemovedMeta(t *testing.T) {
	o, store, _ := newTestObserver(t)
	store.Upsert("DEVICE_1", model.SourceTrait, o.conn.ID, 0, 1, map[string]any{})
	store.Upsert("OTHER_1", model.SourceTrait, o.conn.ID, 0, 1, map[string]any{})

	changes := o.handleBatch(context.Background(), &Batch{
		ResourceMetas: []ResourceMeta{
			{ResourceID: "DEVICE_1", Status: "REMOVED"},
			{ResourceID: "OTHER_1", Status: "REMOVED"},
			{ResourceID: "DEVICE_2", Status: "ACTIVE"},
		},
	})

	require.Len(t, changes, 1, "only structure and device prefixes remove")
	assert.Equal(t, model.Change{ID: "DEVICE_1", Kind: model.ChangeRemove}, changes[0])
	_, ok := store.Get("DEVICE_1")
	assert.False(t, ok)
	_, ok = store.Get("OTHER_1")
	assert.True(t, ok)
}

func TestConfigurationDoneRisingEdge(t *testing.T) {
	o, _, _ := newTestObserver(t)

	ready := &Batch{TraitStates: []TraitState{{
		ResourceID: "DEVICE_1",
		TraitLabel: "configuration_done",
		Values:     map[string]any{"deviceReady": true},
	}}}

	changes := o.handleBatch(context.Background(), ready)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeAdd, changes[0].Kind)

	// Already ready: no second add
	changes = o.handleBatch(context.Background(), ready)
	assert.Empty(t, changes)
}

func TestCameraMigrationCompleteIsAdd(t *testing.T) {
	o, _, _ := newTestObserver(t)

	inProgress := &Batch{TraitStates: []TraitState{{
		ResourceID: "DEVICE_C1",
		TraitLabel: "camera_migration_status",
		Values:     map[string]any{"where": "MIGRATED_TO_GOOGLE_HOME", "progress": "PROGRESS_STARTED"},
	}}}
	assert.Empty(t, o.handleBatch(context.Background(), inProgress))

	complete := &Batch{TraitStates: []TraitState{{
		ResourceID: "DEVICE_C1",
		TraitLabel: "camera_migration_status",
		Values:     map[string]any{"where": "MIGRATED_TO_GOOGLE_HOME", "progress": "PROGRESS_COMPLETE"},
	}}}
	changes := o.handleBatch(context.Background(), complete)
	require.Len(t, changes, 1)
	assert.Equal(t, model.Change{ID: "DEVICE_C1", Kind: model.ChangeAdd}, changes[0])

	assert.Empty(t, o.handleBatch(context.Background(), complete), "steady state is not a new add")
}

func TestObserveStreamEndToEnd(t *testing.T) {
	framed := encodeBatch(
		[][]byte{encodeTraitState("DEVICE_1", "label", map[string]any{"label": "Lounge"}, true)},
		nil,
	)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, observePath, r.URL.Path)
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "binary", r.Header.Get("X-Accept-Content-Transfer-Encoding"))
		assert.Equal(t, "true", r.Header.Get("X-Accept-Response-Streaming"))
		assert.Equal(t, "Basic tok", r.Header.Get("Authorization"))
		w.Write(framed)
	}))
	defer gateway.Close()

	o, store, _ := newTestObserver(t)
	o.SetBase(gateway.URL)

	require.NoError(t, o.observe(context.Background()), "a cleanly closed stream is not an error")

	e, ok := store.Get("DEVICE_1")
	require.True(t, ok)
	assert.Equal(t, "Lounge", e.Value["label"].(map[string]any)["label"])
}
