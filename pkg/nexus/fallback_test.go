package nexus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripStartCode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"four byte prefix", []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42}, []byte{0x67, 0x42}},
		{"three byte prefix", []byte{0x00, 0x00, 0x01, 0x67, 0x42}, []byte{0x67, 0x42}},
		{"no prefix", []byte{0x67, 0x42}, []byte{0x67, 0x42}},
		{"empty", []byte{}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripStartCode(tt.in))
		})
	}
}

func TestLoadFallbackFramesMissingDirectory(t *testing.T) {
	frames, err := LoadFallbackFrames("")
	require.NoError(t, err)
	assert.NotEmpty(t, frames.Offline)
	assert.NotEmpty(t, frames.Off)
	assert.NotEmpty(t, frames.Connecting)
}

func TestLoadFallbackFramesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	offline := append([]byte{0x00, 0x00, 0x00, 0x01}, spsFrame...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "camera_offline.h264"), offline, 0o644))

	frames, err := LoadFallbackFrames(dir)
	require.NoError(t, err)

	assert.Equal(t, spsFrame, frames.Offline, "leading start code is stripped at load")
	assert.Equal(t, placeholderFrame, frames.Off, "missing files keep the placeholder")
}
