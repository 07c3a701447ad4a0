package runner_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/runner"
)

func exportConfig() octamm.Config {
	cfg := octamm.DefaultConfig()
	cfg.TailSeconds = 0.25
	return cfg
}

func sineTimeline(t *testing.T) octamm.Timeline {
	t.Helper()
	score, err := octamm.ReadScore(strings.NewReader(
		"graphs:\n  lead: \"sine\"\nevents:\n  - graph: lead\n    tick: 0\n    note: 69\n    duration: 44100\n"))
	if err != nil {
		t.Fatalf("ReadScore failed: %v", err)
	}
	timeline, err := score.Compile(nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return timeline
}

func TestRenderSineSecond(t *testing.T) {
	cfg := exportConfig()
	out, err := runner.Render(sineTimeline(t), cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	expected := 44100 + 11025
	if len(out) != expected {
		t.Fatalf("rendered %v frames, expected %v", len(out), expected)
	}
	crossings := 0
	for i := 1; i < 44100; i++ {
		if (out[i-1][0] < 0) != (out[i][0] < 0) {
			crossings++
		}
	}
	// A4 sine: 880 zero crossings over the first second
	if crossings < 878 || crossings > 882 {
		t.Errorf("zero crossings = %v, expected about 880", crossings)
	}
	// the graph has no envelope, so the note cuts at its duration
	if tail := out[44100:]; tail.Peak() != 0 {
		t.Errorf("tail not silent: peak %v", tail.Peak())
	}
}

func TestRenderDeterministic(t *testing.T) {
	cfg := exportConfig()
	a, err := runner.Render(sineTimeline(t), cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	b, err := runner.Render(sineTimeline(t), cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	ab, err := runner.Encode(a, "wav32", cfg.SampleRate)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	bb, err := runner.Encode(b, "wav32", cfg.SampleRate)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(ab, bb) {
		t.Fatalf("two renders of the same timeline differ")
	}
}

func TestRenderReleasesOpenEndedNotes(t *testing.T) {
	var timeline octamm.Timeline
	spec, err := octamm.ParseGraph("sine")
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	template, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	timeline.Schedule(octamm.Event{Tick: 0, Template: template, Pitch: 440, Velocity: 1, Duration: -1, ID: 1})
	timeline.Schedule(octamm.Event{Tick: 0, Template: template, Pitch: 550, Velocity: 1, Duration: 1000, ID: 2})
	cfg := exportConfig()
	out, err := runner.Render(timeline, cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(out) != 1000+11025 {
		t.Fatalf("rendered %v frames", len(out))
	}
	if out[:1000].Peak() == 0 {
		t.Errorf("notes rendered silence")
	}
	// the open-ended note is released when the last timed note ends
	if tail := out[1001:]; tail.Peak() != 0 {
		t.Errorf("open-ended note still sounding in the tail: peak %v", tail.Peak())
	}
}

func TestRenderNormalize(t *testing.T) {
	cfg := exportConfig()
	cfg.MasterGain = 0.25
	cfg.Normalize = true
	out, err := runner.Render(sineTimeline(t), cfg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if peak := out.Peak(); peak < 0.999 || peak > 1.001 {
		t.Errorf("normalized peak = %v, expected 1", peak)
	}
}

func TestExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	cfg := exportConfig()
	cfg.ExportFormat = "wav16"
	if err := runner.Export(path, sineTimeline(t), cfg); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) {
		t.Errorf("export is not a wav file")
	}
	if len(data) != 44+(44100+11025)*4 {
		t.Errorf("export length = %v", len(data))
	}
}

func TestExportWriteFailure(t *testing.T) {
	cfg := exportConfig()
	err := runner.Export(filepath.Join(t.TempDir(), "no", "such", "dir", "out.wav"), sineTimeline(t), cfg)
	if err == nil {
		t.Fatalf("export into a missing directory should fail")
	}
	var exportErr *runner.ExportError
	if !errors.As(err, &exportErr) {
		t.Errorf("expected ExportError, got %v", err)
	}
}
