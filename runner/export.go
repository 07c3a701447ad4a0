package runner

import (
	"fmt"
	"os"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/engine"
)

// ExportError is a failed write of an offline render. Unlike player-side
// diagnostics, export failures are fatal and returned to the caller.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("could not write export %v: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Render renders a timeline offline into an audio buffer. The render uses a
// fresh voice pool, so the result is a pure function of the timeline and the
// configuration: rendering the same score twice gives byte-identical output,
// and it is also identical to what live playback would produce on a machine
// that never underruns. Open-ended notes are released when the last timed
// note ends, and the configured tail keeps releases and delays ringing out.
func Render(timeline octamm.Timeline, cfg octamm.Config) (octamm.AudioBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seq := NewSequencer(timeline.Copy())
	pool := engine.NewPool(cfg.Polyphony, cfg.SampleRate, cfg.BlockSize)
	clip := cfg.ClipPolicy()
	masterGain := float32(cfg.MasterGain)

	end := seq.EndTick()
	tail := int(cfg.TailSeconds * float64(cfg.SampleRate))
	totalFrames := end + tail
	out := make(octamm.AudioBuffer, totalFrames)

	buffer := out
	released := false
	for len(buffer) > 0 {
		for {
			due, ok := seq.PopDue()
			if !ok {
				break
			}
			pool.Trigger(due.Event)
		}
		n := seq.NextDue(len(buffer))
		if seq.Tick() < end && seq.Tick()+n > end {
			n = end - seq.Tick()
		}
		if n < 1 {
			n = 1
		}
		if n > cfg.BlockSize {
			n = cfg.BlockSize
		}
		segment := buffer[:n]
		pool.Render(segment)
		for i := range segment {
			segment[i][0] = clip.Apply(segment[i][0] * masterGain)
			segment[i][1] = clip.Apply(segment[i][1] * masterGain)
		}
		seq.Advance(n)
		buffer = buffer[n:]
		if !released && seq.Tick() >= end {
			pool.ReleaseAll()
			released = true
		}
	}
	if cfg.Normalize {
		out.Normalize(normalizeFloor)
	}
	return out, nil
}

// normalizeFloor keeps normalization from amplifying a near-silent render
// into pure noise floor.
const normalizeFloor = 1e-4

// Encode serializes a rendered buffer in the given export format: "wav32",
// "wav16", "raw32" or "raw16".
func Encode(buffer octamm.AudioBuffer, format string, sampleRate int) ([]byte, error) {
	switch format {
	case "wav32":
		return buffer.Wav(sampleRate, false)
	case "wav16":
		return buffer.Wav(sampleRate, true)
	case "raw32":
		return buffer.Raw(false)
	case "raw16":
		return buffer.Raw(true)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// Export renders a timeline offline and writes it to path in the configured
// format.
func Export(path string, timeline octamm.Timeline, cfg octamm.Config) error {
	buffer, err := Render(timeline, cfg)
	if err != nil {
		return err
	}
	data, err := Encode(buffer, cfg.ExportFormat, cfg.SampleRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &ExportError{Path: path, Err: err}
	}
	return nil
}
