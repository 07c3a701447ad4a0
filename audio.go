package octamm

import (
	"errors"
	"math"
)

type (
	// AudioBuffer is a buffer of stereo audio samples, in the range -1 .. 1,
	// where [i][0] is the left and [i][1] is the right channel of frame i.
	AudioBuffer [][2]float32

	// AudioContext represents the low-level audio device. There should be at
	// most one AudioContext at a time. Play keeps calling the callback to pull
	// blocks of audio for the device, from a goroutine owned by the context,
	// until the returned CloserWaiter is closed. The interface is implemented
	// by the oto subpackage, but can be mocked in tests.
	AudioContext interface {
		Play(callback BufferCallback) CloserWaiter
		Close() error
	}

	// BufferCallback fills the given buffer completely with audio.
	BufferCallback func(buffer AudioBuffer) error

	// CloserWaiter is something that can be both closed and waited to finish.
	CloserWaiter interface {
		Close() error
		Wait()
	}
)

// Fill fills the whole buffer with zeroes (silence).
func (buffer AudioBuffer) Fill() {
	for i := range buffer {
		buffer[i] = [2]float32{}
	}
}

// Peak returns the largest absolute sample value in the buffer, over both
// channels.
func (buffer AudioBuffer) Peak() float32 {
	var peak float32
	for _, frame := range buffer {
		for _, s := range frame {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
	}
	return peak
}

// Normalize scales the buffer so that the peak is at 1.0. Buffers quieter than
// the given floor are left untouched, to avoid amplifying noise floors.
func (buffer AudioBuffer) Normalize(floor float32) {
	peak := buffer.Peak()
	if peak <= floor || peak == 0 {
		return
	}
	scale := 1 / peak
	for i := range buffer {
		buffer[i][0] *= scale
		buffer[i][1] *= scale
	}
}

// ClipPolicy tells what to do with samples outside the -1 .. 1 range when
// mixing the final output.
type ClipPolicy int

const (
	// ClipNone leaves the samples as they are.
	ClipNone ClipPolicy = iota
	// ClipHard clamps the samples to -1 .. 1.
	ClipHard
	// ClipSoft applies a smooth saturating curve that approaches ±1.
	ClipSoft
)

var ErrInvalidClipPolicy = errors.New("invalid clip policy")

func (c ClipPolicy) Apply(value float32) float32 {
	switch c {
	case ClipHard:
		if value < -1 {
			return -1
		}
		if value > 1 {
			return 1
		}
		return value
	case ClipSoft:
		return float32(math.Tanh(float64(value)))
	}
	return value
}

func (c ClipPolicy) String() string {
	switch c {
	case ClipNone:
		return "none"
	case ClipHard:
		return "hard"
	case ClipSoft:
		return "soft"
	}
	return "unknown"
}

func ParseClipPolicy(s string) (ClipPolicy, error) {
	switch s {
	case "", "soft":
		return ClipSoft, nil
	case "none":
		return ClipNone, nil
	case "hard":
		return ClipHard, nil
	}
	return ClipNone, ErrInvalidClipPolicy
}

// NoteToFrequency converts a MIDI note number to a frequency in Hz, with A4
// (note 69) at 440 Hz.
func NoteToFrequency(note byte) float64 {
	return 440 * math.Exp2((float64(note)-69)/12)
}
