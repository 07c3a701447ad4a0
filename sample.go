package octamm

import "fmt"

type (
	// Sample is an immutable buffer of decoded PCM audio, shared read-only by
	// any number of voices. The sample package owns loading, caching and
	// eviction; once handed out, the frame data is never mutated.
	Sample struct {
		// Name is the key the sample is known by, typically the file name
		// without extension.
		Name string

		// Rate is the native sample rate of the data, in frames per second.
		Rate int

		// BaseFrequency is the pitch the sample is assumed to play at when
		// read back at its native rate; playing a voice at frequency f reads
		// the data at ratio f / BaseFrequency.
		BaseFrequency float64

		// Data is the decoded audio, one stereo frame per element. Mono
		// sources are stored with both channels equal.
		Data [][2]float32
	}

	// Slice is a named sub-region of a sample, in frames, with Start
	// inclusive and End exclusive.
	Slice struct {
		Start int
		End   int
	}
)

// NumFrames returns the length of the sample in frames.
func (s *Sample) NumFrames() int { return len(s.Data) }

// Whole returns the slice covering the entire sample.
func (s *Sample) Whole() Slice { return Slice{Start: 0, End: len(s.Data)} }

// SizeBytes returns the approximate memory use of the decoded data, used for
// cache accounting.
func (s *Sample) SizeBytes() int64 { return int64(len(s.Data)) * 8 }

// CheckBounds validates that the slice lies within the sample.
func (s *Sample) CheckBounds(region Slice) error {
	if region.Start < 0 || region.End > len(s.Data) || region.Start >= region.End {
		return fmt.Errorf("slice %d .. %d out of bounds for sample %q (%d frames)", region.Start, region.End, s.Name, len(s.Data))
	}
	return nil
}

// Len returns the length of the slice in frames.
func (s Slice) Len() int { return s.End - s.Start }
