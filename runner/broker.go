// Package runner contains the realtime side of the engine: the message
// broker, the sequencer, the player that renders blocks for the audio device,
// offline export, and the host facade that scripts and CLIs drive.
package runner

import (
	"sync"
	"time"

	"github.com/octamm/octamm"
)

type (
	// Broker is the centralized message hub between the host and the player.
	// It is many-to-one: one channel per recipient. The player goroutine only
	// ever does non-blocking sends, so a slow host can never stall audio.
	// The broker also keeps a sync.Pool of audio buffers so the player can
	// hand rendered audio to the host without allocating on every block.
	Broker struct {
		ToPlayer chan MsgToPlayer
		ToHost   chan MsgToHost

		bufferPool sync.Pool
	}

	// MsgToPlayer carries one command from the host to the player. Exactly
	// one field is meaningful per message.
	MsgToPlayer struct {
		// Schedule adds an event to the sequencer timeline.
		Schedule *octamm.Event

		// Trigger starts a voice immediately, bypassing the timeline.
		Trigger *octamm.Event

		// Release releases the note with this ID, when nonzero.
		Release int64

		Start bool // start the sequencer
		Stop  bool // stop the sequencer at the end of the block
		Panic bool // cut all voices immediately

		// Seek moves the playhead to this tick, when non-nil.
		Seek *int

		// MidiTemplate sets the graph that live MIDI notes play.
		MidiTemplate *octamm.GraphTemplate
	}

	// MsgToHost carries diagnostics from the player back to the host: alerts
	// and the playback position. Rendered audio rides in Buffer, borrowed
	// from the broker pool; the receiver must return it with PutAudioBuffer.
	MsgToHost struct {
		HasAlert bool
		Alert    Alert

		HasPosition bool
		Position    int64
		Voices      int
		Underruns   int

		Buffer *octamm.AudioBuffer
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToPlayer:   make(chan MsgToPlayer, 1024),
		ToHost:     make(chan MsgToHost, 1024),
		bufferPool: sync.Pool{New: func() any { return &octamm.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns an empty buffer from the pool. Return it with
// PutAudioBuffer when done.
func (b *Broker) GetAudioBuffer() *octamm.AudioBuffer {
	return b.bufferPool.Get().(*octamm.AudioBuffer)
}

// PutAudioBuffer returns a buffer to the pool, keeping its capacity.
func (b *Broker) PutAudioBuffer(buf *octamm.AudioBuffer) {
	if len(*buf) > 0 {
		*buf = (*buf)[:0]
	}
	b.bufferPool.Put(buf)
}

// TrySend sends a value to a channel unless it is full. Never blocks.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received or the timeout passes. ok
// is false on timeout or when the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
