package runner_test

import (
	"math"
	"testing"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/runner"
)

func TestVolumeAnalyzer(t *testing.T) {
	a := runner.NewVolumeAnalyzer(0.3, 1.5e-3, 1.5, -100, 44100)
	buffer := make(octamm.AudioBuffer, 44100)
	for i := range buffer {
		s := float32(math.Sin(2 * math.Pi * 440 * float64(i) / 44100))
		buffer[i] = [2]float32{s, s / 2}
	}
	v := a.Update(buffer)
	// full-scale sine averages at about -3 dB; the right channel is 6 dB down
	if v.Average[0] < -6 || v.Average[0] > 0 {
		t.Errorf("left average = %v dB", v.Average[0])
	}
	if d := v.Average[0] - v.Average[1]; d < 5 || d > 7 {
		t.Errorf("channel difference = %v dB, expected about 6", d)
	}
	if v.Peak[0] < v.Average[0] {
		t.Errorf("peak %v dB below average %v dB", v.Peak[0], v.Average[0])
	}
	// silence decays towards the floor
	silent := make(octamm.AudioBuffer, 44100*5)
	v = a.Update(silent)
	if v.Average[0] > -90 {
		t.Errorf("average did not decay in silence: %v dB", v.Average[0])
	}
}
