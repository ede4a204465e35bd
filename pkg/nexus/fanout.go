package nexus

import (
	"io"
	"sync"
)

// ConsumerKind distinguishes the three fan-out destinations
type ConsumerKind int

const (
	ConsumerBuffer ConsumerKind = iota // Rolling history only, nothing written
	ConsumerLive                       // Live viewer sinks
	ConsumerRecord                     // Recording sinks, seeded from the buffer
)

// String returns human-readable consumer kind
func (k ConsumerKind) String() string {
	switch k {
	case ConsumerBuffer:
		return "buffer"
	case ConsumerLive:
		return "live"
	case ConsumerRecord:
		return "record"
	default:
		return "unknown"
	}
}

// FrameType tags a media frame as video or audio
type FrameType int

const (
	FrameVideo FrameType = iota
	FrameAudio
)

// MediaFrame is one demultiplexed media unit with its channel clock time
type MediaFrame struct {
	Type FrameType
	Time int64 // Channel clock, milliseconds
	Data []byte
}

// nalStartCode prefixes every video frame written to a sink
var nalStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// maxQueuedFrames bounds every pending queue and the rolling buffer
const maxQueuedFrames = 1000

// Consumer is one fan-out destination with a private pending queue so a
// slow sink can never block the session read loop.
type Consumer struct {
	ID       string
	Kind     ConsumerKind
	Video    io.Writer
	Audio    io.Writer
	Talkback io.Reader

	mu      sync.Mutex
	queue   []MediaFrame
	aligned bool

	talkback *talkbackWriter
}

func newConsumer(id string, kind ConsumerKind, video, audio io.Writer, talkback io.Reader) *Consumer {
	return &Consumer{
		ID:       id,
		Kind:     kind,
		Video:    video,
		Audio:    audio,
		Talkback: talkback,
		// Buffer consumers start aligned: they only hold history
		aligned: kind == ConsumerBuffer,
	}
}

// push appends a frame to the pending queue
func (c *Consumer) push(frame MediaFrame) {
	c.mu.Lock()
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
}

// seed preloads the queue with a snapshot of buffered history
func (c *Consumer) seed(frames []MediaFrame) {
	c.mu.Lock()
	c.queue = append(c.queue, frames...)
	c.mu.Unlock()
}

// pending returns the current queue depth
func (c *Consumer) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// drain moves all pending frames out of the queue
func (c *Consumer) drain() []MediaFrame {
	c.mu.Lock()
	frames := c.queue
	c.queue = nil
	c.mu.Unlock()
	return frames
}

// trim drops queue head entries beyond the cap. Buffer consumers are
// trimmed on each output tick instead of being written.
func (c *Consumer) trim() {
	c.mu.Lock()
	if excess := len(c.queue) - maxQueuedFrames; excess > 0 {
		c.queue = append(c.queue[:0:0], c.queue[excess:]...)
	}
	c.mu.Unlock()
}

// write flushes pending frames to the sinks, discarding everything ahead of
// the first SPS video frame so a decoder always starts on a parameter set.
func (c *Consumer) write() error {
	for _, frame := range c.drain() {
		// aligned is shared with the session's close path, which resets it
		// for the next socket generation
		c.mu.Lock()
		aligned := c.aligned
		if !aligned && frame.Type == FrameVideo && len(frame.Data) > 0 && frame.Data[0]&0x1F == 7 {
			c.aligned = true
			aligned = true
		}
		c.mu.Unlock()
		if !aligned {
			continue
		}

		switch frame.Type {
		case FrameVideo:
			if c.Video == nil {
				continue
			}
			if _, err := c.Video.Write(nalStartCode); err != nil {
				return err
			}
			if _, err := c.Video.Write(frame.Data); err != nil {
				return err
			}
		case FrameAudio:
			if c.Audio == nil {
				continue
			}
			if _, err := c.Audio.Write(frame.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// rollingBuffer keeps the most recent frames to seed record consumers
type rollingBuffer struct {
	mu     sync.Mutex
	frames []MediaFrame
}

// push appends a frame, dropping the oldest past the cap
func (b *rollingBuffer) push(frame MediaFrame) {
	b.mu.Lock()
	b.frames = append(b.frames, frame)
	if len(b.frames) > maxQueuedFrames {
		b.frames = append(b.frames[:0:0], b.frames[len(b.frames)-maxQueuedFrames:]...)
	}
	b.mu.Unlock()
}

// snapshot returns a copy of the buffered history. The copy prevents a
// seeded record consumer from aliasing the live buffer.
func (b *rollingBuffer) snapshot() []MediaFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MediaFrame, len(b.frames))
	copy(out, b.frames)
	return out
}

// reset drops all buffered history
func (b *rollingBuffer) reset() {
	b.mu.Lock()
	b.frames = nil
	b.mu.Unlock()
}
