package nexus

import (
	"io"
	"time"
)

// talkbackIdleTimeout marks end-of-utterance: after this long without a
// chunk from the source, one empty AUDIO_PAYLOAD is sent.
const talkbackIdleTimeout = 500 * time.Millisecond

// talkbackSampleRate is the uplink audio sample rate
const talkbackSampleRate = 16000

// talkbackWriter pumps a consumer's uplink audio source into
// AUDIO_PAYLOAD frames on the session socket.
type talkbackWriter struct {
	send      func(packetType uint8, payload []byte)
	sessionID func() uint64
	stop      chan struct{}
	done      chan struct{}
}

func newTalkbackWriter(send func(uint8, []byte), sessionID func() uint64) *talkbackWriter {
	return &talkbackWriter{
		send:      send,
		sessionID: sessionID,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// run reads chunks until the source drains or the writer is stopped.
// Blocking reads happen on a pump goroutine so the idle timer can fire
// while the source is quiet.
func (t *talkbackWriter) run(source io.Reader) {
	defer close(t.done)

	chunks := make(chan []byte, 8)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := source.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-t.stop:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	idle := time.NewTimer(talkbackIdleTimeout)
	defer idle.Stop()
	idleSent := false

	for {
		select {
		case <-t.stop:
			t.sendChunk(nil)
			return

		case chunk := <-chunks:
			t.sendChunk(chunk)
			idleSent = false
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(talkbackIdleTimeout)

		case <-idle.C:
			if !idleSent {
				// Empty payload marks end of utterance
				t.sendChunk(nil)
				idleSent = true
			}
			idle.Reset(talkbackIdleTimeout)

		case <-readErr:
			// EOF and failure both end the utterance
			t.sendChunk(nil)
			return
		}
	}
}

func (t *talkbackWriter) sendChunk(chunk []byte) {
	payload := AudioPayload{
		Payload:    chunk,
		SessionID:  t.sessionID(),
		Codec:      CodecSpeex,
		SampleRate: talkbackSampleRate,
	}
	t.send(PacketAudioPayload, payload.Encode())
}

// shutdown stops the writer and waits for the pump to exit
func (t *talkbackWriter) shutdown() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}
