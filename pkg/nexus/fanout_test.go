package nexus

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeBuffer is a bytes.Buffer safe for the output loop to write while the
// test reads
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

var (
	spsFrame    = []byte{0x67, 0x42, 0x00, 0x1E} // NAL type 7
	idrFrame    = []byte{0x65, 0x88, 0x84, 0x00} // NAL type 5
	nonIDRFrame = []byte{0x41, 0x9A, 0x02, 0x04} // NAL type 1
	aacFrame    = []byte{0xFF, 0xF1, 0x50, 0x80}
)

func TestConsumerDiscardsUntilSPS(t *testing.T) {
	video := &safeBuffer{}
	audio := &safeBuffer{}
	c := newConsumer("viewer", ConsumerLive, video, audio, nil)

	// Everything before the first SPS must be dropped, audio included
	c.push(MediaFrame{Type: FrameAudio, Time: 1, Data: aacFrame})
	c.push(MediaFrame{Type: FrameVideo, Time: 2, Data: nonIDRFrame})
	c.push(MediaFrame{Type: FrameVideo, Time: 3, Data: spsFrame})
	c.push(MediaFrame{Type: FrameVideo, Time: 4, Data: idrFrame})
	c.push(MediaFrame{Type: FrameAudio, Time: 5, Data: aacFrame})

	require.NoError(t, c.write())

	want := append(append([]byte(nil), nalStartCode...), spsFrame...)
	want = append(want, nalStartCode...)
	want = append(want, idrFrame...)
	assert.Equal(t, want, video.Bytes(), "video must start at the SPS with start codes prefixed")
	assert.Equal(t, aacFrame, audio.Bytes(), "only post-alignment audio is written, without a start code")
}

func TestConsumerStaysAlignedAcrossWrites(t *testing.T) {
	video := &safeBuffer{}
	c := newConsumer("viewer", ConsumerLive, video, nil, nil)

	c.push(MediaFrame{Type: FrameVideo, Time: 1, Data: spsFrame})
	require.NoError(t, c.write())
	c.push(MediaFrame{Type: FrameVideo, Time: 2, Data: nonIDRFrame})
	require.NoError(t, c.write())

	assert.Contains(t, string(video.Bytes()), string(nonIDRFrame),
		"once aligned, non-SPS frames pass through")
}

func TestConsumerTrimBoundsQueue(t *testing.T) {
	c := newConsumer("buffer", ConsumerBuffer, nil, nil, nil)
	for i := 0; i < maxQueuedFrames+250; i++ {
		c.push(MediaFrame{Type: FrameVideo, Time: int64(i), Data: nonIDRFrame})
	}

	c.trim()

	assert.Equal(t, maxQueuedFrames, c.pending())
	// Oldest entries go first
	frames := c.drain()
	assert.Equal(t, int64(250), frames[0].Time)
}

func TestRollingBufferCapAndSnapshotIsolation(t *testing.T) {
	var b rollingBuffer
	for i := 0; i < maxQueuedFrames+10; i++ {
		b.push(MediaFrame{Type: FrameVideo, Time: int64(i), Data: nonIDRFrame})
	}

	snap := b.snapshot()
	require.Len(t, snap, maxQueuedFrames)
	assert.Equal(t, int64(10), snap[0].Time, "oldest frames drop past the cap")

	// Mutating the snapshot must not touch the live buffer
	snap[0] = MediaFrame{Type: FrameAudio, Time: -1}
	again := b.snapshot()
	assert.Equal(t, int64(10), again[0].Time)

	b.reset()
	assert.Empty(t, b.snapshot())
}

func TestRecordConsumerSeededFromBuffer(t *testing.T) {
	var b rollingBuffer
	b.push(MediaFrame{Type: FrameVideo, Time: 1, Data: spsFrame})
	b.push(MediaFrame{Type: FrameVideo, Time: 2, Data: idrFrame})

	video := &safeBuffer{}
	c := newConsumer("rec", ConsumerRecord, video, nil, nil)
	c.seed(b.snapshot())
	c.push(MediaFrame{Type: FrameVideo, Time: 3, Data: nonIDRFrame})

	require.NoError(t, c.write())

	out := video.Bytes()
	assert.True(t, bytes.HasPrefix(out, append(append([]byte(nil), nalStartCode...), spsFrame...)),
		"seeded history plays out before live frames")
	assert.Contains(t, string(out), string(nonIDRFrame))
}
