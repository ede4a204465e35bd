package nexus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// AACAudioSilence is a constant silent AAC frame injected alongside
// synthetic video so downstream muxers keep both elementary streams moving.
var AACAudioSilence = []byte{0xDE, 0x02, 0x00, 0x4C, 0x61, 0x76, 0x63, 0x00, 0x02, 0x30}

// fallbackIntervalMS is how long the session tolerates no real video frame
// before synthetic frames start (90kHz clock over 30fps).
const fallbackIntervalMS = 90000 / 30

// FallbackFrames holds the prerecorded H.264 frames shown when a camera is
// unreachable or has streaming disabled. Leading NAL start codes are
// stripped at load so the output loop's prefix rule applies uniformly.
type FallbackFrames struct {
	Offline    []byte // Camera unreachable
	Off        []byte // Camera reachable, streaming disabled
	Connecting []byte // Session still coming up
}

// placeholder frames used when no resource directory is configured: a
// minimal SPS/PPS-free filler NAL so consumers keep ticking. Real
// deployments ship full prerecorded frames in the resource directory.
var placeholderFrame = []byte{0x67, 0x42, 0x00, 0x1E, 0xAB, 0x40, 0xB0, 0x4B, 0x20}

// LoadFallbackFrames reads the three prerecorded frames from dir. A missing
// directory or file falls back to the built-in placeholder so startup never
// depends on the resource set being present.
func LoadFallbackFrames(dir string) (*FallbackFrames, error) {
	frames := &FallbackFrames{
		Offline:    placeholderFrame,
		Off:        placeholderFrame,
		Connecting: placeholderFrame,
	}
	if dir == "" {
		return frames, nil
	}

	load := func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		return StripStartCode(data), nil
	}

	var firstErr error
	if data, err := load("camera_offline.h264"); err == nil {
		frames.Offline = data
	} else if !os.IsNotExist(err) {
		firstErr = fmt.Errorf("load camera_offline: %w", err)
	}
	if data, err := load("camera_off.h264"); err == nil {
		frames.Off = data
	} else if firstErr == nil && !os.IsNotExist(err) {
		firstErr = fmt.Errorf("load camera_off: %w", err)
	}
	if data, err := load("camera_connecting.h264"); err == nil {
		frames.Connecting = data
	} else if firstErr == nil && !os.IsNotExist(err) {
		firstErr = fmt.Errorf("load camera_connecting: %w", err)
	}

	return frames, firstErr
}

// StripStartCode removes a leading 4-byte (or 3-byte) Annex-B start code
func StripStartCode(data []byte) []byte {
	if bytes.HasPrefix(data, nalStartCode) {
		return data[4:]
	}
	if bytes.HasPrefix(data, nalStartCode[1:]) {
		return data[3:]
	}
	return data
}
