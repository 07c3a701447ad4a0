package oto

import (
	"math"

	"github.com/octamm/octamm"
)

// FloatBufferTo16BitLE converts a stereo float buffer to interleaved 16-bit
// little-endian samples, appending to the given byte slice so callers can
// reuse its capacity between blocks.
func FloatBufferTo16BitLE(buffer octamm.AudioBuffer, to []byte) []byte {
	for _, frame := range buffer {
		for _, v := range frame {
			var uv int16
			if v < -1.0 {
				uv = -math.MaxInt16
			} else if v > 1.0 {
				uv = math.MaxInt16
			} else {
				uv = int16(v * math.MaxInt16)
			}
			to = append(to, byte(uv), byte(uv>>8))
		}
	}
	return to
}
