package octamm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the project-level engine settings. It is serialized as YAML in
// the project directory; zero values are replaced by defaults when loading,
// so a missing or empty file behaves like DefaultConfig.
type Config struct {
	// SampleRate is the render rate, in frames per second.
	SampleRate int `yaml:"samplerate"`

	// BlockSize is the number of frames rendered per pull cycle.
	BlockSize int `yaml:"blocksize"`

	// Polyphony is the voice pool ceiling; triggers beyond it steal voices.
	Polyphony int `yaml:"polyphony"`

	// MasterGain scales the mixed output before clipping. Like every other
	// field, zero means the default (unity); to effectively mute the output,
	// use a very small positive value.
	MasterGain float64 `yaml:"mastergain"`

	// Clip is the output clipping policy: "soft", "hard" or "none".
	Clip string `yaml:"clip"`

	// ExportFormat is the offline render format: "wav32", "wav16", "raw32" or
	// "raw16". The best lossless default is deliberately a configuration
	// point.
	ExportFormat string `yaml:"exportformat"`

	// Normalize scales an offline render so its peak hits full scale, unless
	// the render is near-silent.
	Normalize bool `yaml:"normalize,omitempty"`

	// SampleBudget is the sample cache memory budget, in bytes.
	SampleBudget int64 `yaml:"samplebudget"`

	// TailSeconds is how long the offline render keeps going after the last
	// event ends, to let releases and delays ring out. Zero means the
	// default tail, not a tailless render.
	TailSeconds float64 `yaml:"tailseconds"`
}

// DefaultConfig returns the settings used when a project does not override
// them.
func DefaultConfig() Config {
	return Config{
		SampleRate:   44100,
		BlockSize:    512,
		Polyphony:    32,
		MasterGain:   1,
		Clip:         "soft",
		ExportFormat: "wav32",
		SampleBudget: 256 << 20,
		TailSeconds:  2,
	}
}

// FillDefaults replaces zero values with the defaults.
func (c *Config) FillDefaults() {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.Polyphony == 0 {
		c.Polyphony = d.Polyphony
	}
	if c.MasterGain == 0 {
		c.MasterGain = d.MasterGain
	}
	if c.Clip == "" {
		c.Clip = d.Clip
	}
	if c.ExportFormat == "" {
		c.ExportFormat = d.ExportFormat
	}
	if c.SampleBudget == 0 {
		c.SampleBudget = d.SampleBudget
	}
	if c.TailSeconds == 0 {
		c.TailSeconds = d.TailSeconds
	}
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("samplerate %d outside 8000 .. 192000", c.SampleRate)
	}
	if c.BlockSize < 16 || c.BlockSize > 16384 {
		return fmt.Errorf("blocksize %d outside 16 .. 16384", c.BlockSize)
	}
	if c.Polyphony < 1 || c.Polyphony > 256 {
		return fmt.Errorf("polyphony %d outside 1 .. 256", c.Polyphony)
	}
	if c.MasterGain < 0 {
		return errors.New("mastergain cannot be negative")
	}
	if _, err := ParseClipPolicy(c.Clip); err != nil {
		return fmt.Errorf("clip %q: %w", c.Clip, err)
	}
	switch c.ExportFormat {
	case "wav32", "wav16", "raw32", "raw16":
	default:
		return fmt.Errorf("unknown export format %q", c.ExportFormat)
	}
	if c.SampleBudget < 1<<20 {
		return errors.New("samplebudget should be at least 1 MB")
	}
	if c.TailSeconds < 0 || c.TailSeconds > 60 {
		return fmt.Errorf("tailseconds %v outside 0 .. 60", c.TailSeconds)
	}
	return nil
}

// ClipPolicy returns the parsed clip policy; Validate should have been called
// first, so parse errors fall back to soft clipping.
func (c *Config) ClipPolicy() ClipPolicy {
	p, err := ParseClipPolicy(c.Clip)
	if err != nil {
		return ClipSoft
	}
	return p
}

// ReadConfig parses a YAML config, applying defaults and validating.
func ReadConfig(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("could not parse config: %w", err)
	}
	c.FillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfig reads a YAML config file. A missing file is not an error; the
// defaults are returned.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("could not open config %v: %w", path, err)
	}
	defer f.Close()
	return ReadConfig(f)
}
