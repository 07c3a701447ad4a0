package oto

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/octamm/octamm"
)

type (
	// Context wraps an oto audio context so the rest of the engine only sees
	// the octamm.AudioContext interface.
	Context struct {
		context    *oto.Context
		sampleRate int
	}

	// playback is the CloserWaiter returned by Play. The oto player pulls
	// audio from the callback through an io.Reader on its own goroutine;
	// closing stops the pulling and releases the device buffer.
	playback struct {
		player *oto.Player
		reader *callbackReader
		once   sync.Once
		err    error
	}

	// callbackReader adapts a BufferCallback to the io.Reader the oto player
	// consumes, converting the rendered floats to the device sample format.
	callbackReader struct {
		callback octamm.BufferCallback
		buffer   octamm.AudioBuffer
		bytes    []byte

		mu     sync.Mutex
		closed bool
	}
)

const otoBufferFrames = 2048

// NewContext initializes the audio device for stereo playback at the given
// sample rate and waits until it is ready.
func NewContext(sampleRate int) (*Context, error) {
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{context: context, sampleRate: sampleRate}, nil
}

func (c *Context) Play(callback octamm.BufferCallback) octamm.CloserWaiter {
	reader := &callbackReader{
		callback: callback,
		buffer:   make(octamm.AudioBuffer, otoBufferFrames),
	}
	player := c.context.NewPlayer(reader)
	player.Play()
	return &playback{player: player, reader: reader}
}

// Close implements octamm.AudioContext. An oto context cannot be torn down,
// so this only suspends it; a later NewContext call would fail.
func (c *Context) Close() error {
	return c.context.Suspend()
}

func (p *playback) Close() error {
	p.once.Do(func() {
		p.reader.close()
		p.err = p.player.Close()
	})
	return p.err
}

func (p *playback) Wait() {
	p.Close()
}

func (r *callbackReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}
	if len(r.bytes) == 0 {
		if err := r.callback(r.buffer); err != nil {
			return 0, err
		}
		r.bytes = FloatBufferTo16BitLE(r.buffer, r.bytes[:0])
	}
	n := copy(p, r.bytes)
	r.bytes = r.bytes[n:]
	return n, nil
}

func (r *callbackReader) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
