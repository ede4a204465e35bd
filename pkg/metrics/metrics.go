// Package metrics registers the bridge's Prometheus collectors. Counters
// are package-level promauto vars so every component can increment without
// plumbing a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesDecoded counts decoded nexus frames by packet type
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "nexus",
		Name:      "frames_decoded_total",
		Help:      "Decoded nexus frames by packet type.",
	}, []string{"packet_type"})

	// SessionReconnects counts nexus session reconnects by cause
	SessionReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "nexus",
		Name:      "session_reconnects_total",
		Help:      "Nexus session reconnects by cause (stall, redirect, playback_error, socket_close).",
	}, []string{"cause"})

	// FallbackFrames counts injected synthetic frames by kind
	FallbackFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "nexus",
		Name:      "fallback_frames_total",
		Help:      "Synthetic frames injected while a camera is offline or off.",
	}, []string{"kind"})

	// SubscribeIterations counts REST subscribe loop iterations by result
	SubscribeIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "rest",
		Name:      "subscribe_iterations_total",
		Help:      "REST subscribe loop iterations by result.",
	}, []string{"result"})

	// TraitBatches counts decoded trait observe batches by result
	TraitBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "trait",
		Name:      "observe_batches_total",
		Help:      "Trait observe batches by result.",
	}, []string{"result"})

	// AuthRefreshes counts authorization runs by account kind and result
	AuthRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "account",
		Name:      "auth_refreshes_total",
		Help:      "Authorization exchanges by account kind and result.",
	}, []string{"kind", "result"})

	// CommandWrites counts dispatched device writes by backend
	CommandWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexusbridge",
		Subsystem: "command",
		Name:      "writes_total",
		Help:      "Dispatched device writes by backend (trait, camera_properties, bucket_merge).",
	}, []string{"backend", "result"})

	// DevicesProjected tracks the current canonical device count by kind
	DevicesProjected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nexusbridge",
		Subsystem: "model",
		Name:      "devices_projected",
		Help:      "Canonical devices currently projected, by kind.",
	}, []string{"kind"})
)
