package runner

import (
	"math"

	"github.com/octamm/octamm"
)

// Volume represents an average and peak volume measurement, in decibels. 0 dB =
// signal level of +-1.
type Volume struct {
	Average [2]float32
	Peak    [2]float32
}

// VolumeAnalyzer converts the rendered blocks flowing to the host into peak &
// average volume measurements, for level meters. Feed it every Buffer message
// read from the diagnostics channel.
//
// Internally, it first converts the signal to decibels (0 dB = +-1). Then, the
// average volume level is computed by smoothing the decibel values with a
// exponentially decaying average, with a time constant tau (in seconds).
// Typical value could be 0.3 (seconds).
//
// Peak volume detection is similar exponential smoothing, but the time
// constants for attack and release are different. Generally attack << release.
// Typical values could be attack 1.5e-3 and release 1.5 (seconds)
type VolumeAnalyzer struct {
	Volume Volume

	// MinVolume is a hard limit for the measured volumes, in decibels, just to
	// prevent negative infinities
	MinVolume float32

	alpha        float32
	alphaAttack  float32
	alphaRelease float32
}

func NewVolumeAnalyzer(tau, attack, release float64, minVolume float32, sampleRate int) *VolumeAnalyzer {
	rate := float64(sampleRate)
	return &VolumeAnalyzer{
		Volume: Volume{
			Average: [2]float32{minVolume, minVolume},
			Peak:    [2]float32{minVolume, minVolume},
		},
		MinVolume: minVolume,
		// from https://en.wikipedia.org/wiki/Exponential_smoothing
		alpha:        1 - float32(math.Exp(-1.0/(tau*rate))),
		alphaAttack:  1 - float32(math.Exp(-1.0/(attack*rate))),
		alphaRelease: 1 - float32(math.Exp(-1.0/(release*rate))),
	}
}

// Update folds one rendered block into the measurement and returns the current
// volume.
func (a *VolumeAnalyzer) Update(buffer octamm.AudioBuffer) Volume {
	for j := 0; j < 2; j++ {
		for i := 0; i < len(buffer); i++ {
			sample2 := float64(buffer[i][j] * buffer[i][j])
			if math.IsNaN(sample2) {
				sample2 = float64(a.MinVolume)
			}
			dB := float32(10 * math.Log10(sample2))
			if dB < a.MinVolume {
				dB = a.MinVolume
			}
			a.Volume.Average[j] += (dB - a.Volume.Average[j]) * a.alpha
			alphaPeak := a.alphaAttack
			if dB < a.Volume.Peak[j] {
				alphaPeak = a.alphaRelease
			}
			a.Volume.Peak[j] += (dB - a.Volume.Peak[j]) * alphaPeak
		}
	}
	return a.Volume
}
