package octamm_test

import (
	"strings"
	"testing"

	"github.com/octamm/octamm"
)

func TestReadConfigEmpty(t *testing.T) {
	c, err := octamm.ReadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if c != octamm.DefaultConfig() {
		t.Errorf("empty config = %+v, expected defaults", c)
	}
}

func TestReadConfigOverrides(t *testing.T) {
	yml := "samplerate: 48000\npolyphony: 8\nclip: hard\nexportformat: wav16\n"
	c, err := octamm.ReadConfig(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if c.SampleRate != 48000 || c.Polyphony != 8 {
		t.Errorf("overrides not applied: %+v", c)
	}
	if c.ClipPolicy() != octamm.ClipHard {
		t.Errorf("clip policy = %v, expected hard", c.ClipPolicy())
	}
	if c.BlockSize != 512 {
		t.Errorf("unset blocksize = %v, expected default 512", c.BlockSize)
	}
}

func TestReadConfigZeroMeansDefault(t *testing.T) {
	// zero is not a valid setting for these, it stands for the default
	yml := "mastergain: 0\ntailseconds: 0\n"
	c, err := octamm.ReadConfig(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	d := octamm.DefaultConfig()
	if c.MasterGain != d.MasterGain {
		t.Errorf("mastergain 0 = %v, expected the default %v", c.MasterGain, d.MasterGain)
	}
	if c.TailSeconds != d.TailSeconds {
		t.Errorf("tailseconds 0 = %v, expected the default %v", c.TailSeconds, d.TailSeconds)
	}
}

func TestReadConfigInvalid(t *testing.T) {
	bad := []string{
		"samplerate: 100\n",
		"blocksize: 1\n",
		"polyphony: 10000\n",
		"clip: fuzzy\n",
		"exportformat: mp3\n",
		"tailseconds: 1000\n",
	}
	for _, yml := range bad {
		if _, err := octamm.ReadConfig(strings.NewReader(yml)); err == nil {
			t.Errorf("config %q should have been rejected", yml)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := octamm.LoadConfig("/does/not/exist.yml")
	if err != nil {
		t.Fatalf("missing config file should not be an error, got %v", err)
	}
	if c != octamm.DefaultConfig() {
		t.Errorf("missing config = %+v, expected defaults", c)
	}
}

func TestClipPolicyApply(t *testing.T) {
	if got := octamm.ClipHard.Apply(1.5); got != 1 {
		t.Errorf("hard clip of 1.5 = %v, expected 1", got)
	}
	if got := octamm.ClipNone.Apply(1.5); got != 1.5 {
		t.Errorf("no clip of 1.5 = %v, expected 1.5", got)
	}
	soft := octamm.ClipSoft.Apply(10)
	if soft <= 0.9 || soft > 1 {
		t.Errorf("soft clip of 10 = %v, expected just below 1", soft)
	}
	if got := octamm.ClipSoft.Apply(0); got != 0 {
		t.Errorf("soft clip of 0 = %v, expected 0", got)
	}
}
