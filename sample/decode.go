package sample

import (
	"bytes"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"

	"github.com/octamm/octamm"
)

type (
	// DecodeError means the file was read but its contents could not be
	// understood as audio.
	DecodeError struct {
		Path string
		Err  error
	}

	// IOError means the file could not be read at all.
	IOError struct {
		Path string
		Err  error
	}
)

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not decode %v: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *IOError) Error() string {
	return fmt.Sprintf("could not read %v: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// DefaultBaseFrequency is the pitch a sample is assumed to play at when read
// back at its native rate, unless the host says otherwise.
const DefaultBaseFrequency = 440.0

// decode parses WAV data into a Sample. Mono files are upmixed to stereo by
// duplicating the channel; files with more than two channels keep the first
// two.
func decode(name, path string, data []byte) (*octamm.Sample, error) {
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("no channels or zero sample rate")}
	}
	s := &octamm.Sample{
		Name:          name,
		Rate:          int(format.SampleRate),
		BaseFrequency: DefaultBaseFrequency,
	}
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		for _, smp := range samples {
			left := float32(r.FloatValue(smp, 0))
			right := left
			if format.NumChannels > 1 {
				right = float32(r.FloatValue(smp, 1))
			}
			s.Data = append(s.Data, [2]float32{left, right})
		}
	}
	if len(s.Data) == 0 {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("no audio frames")}
	}
	return s, nil
}
