package sample_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/sample"
)

// writeTestWav writes a PCM16 wav with the given number of frames, filled
// with a ramp keyed by seed so that different seeds give different bytes.
func writeTestWav(t *testing.T, path string, frames int, seed float32) {
	t.Helper()
	buffer := make(octamm.AudioBuffer, frames)
	for i := range buffer {
		v := seed * float32(i%100) / 100
		buffer[i] = [2]float32{v, -v}
	}
	data, err := buffer.Wav(44100, true)
	if err != nil {
		t.Fatalf("building test wav: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing test wav: %v", err)
	}
}

func TestLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kick.wav")
	writeTestWav(t, path, 500, 0.5)
	store := sample.NewStore(1 << 20)
	s, err := store.Load("kick", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.NumFrames() != 500 || s.Rate != 44100 {
		t.Fatalf("decoded %v frames at %v Hz", s.NumFrames(), s.Rate)
	}
	if s.BaseFrequency != sample.DefaultBaseFrequency {
		t.Errorf("base frequency = %v", s.BaseFrequency)
	}
	got, err := store.Get("kick")
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := store.Get("snare"); err == nil {
		t.Errorf("Get of unknown name should fail")
	}
}

func TestLoadDeduplicates(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeTestWav(t, a, 200, 0.5)
	writeTestWav(t, b, 200, 0.5) // identical contents
	store := sample.NewStore(1 << 20)
	sa, err := store.Load("a", a)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sb, err := store.Load("b", b)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sa != sb {
		t.Errorf("identical contents should share the decoded sample")
	}
	if store.Used() != sa.SizeBytes() {
		t.Errorf("Used = %v, expected %v counted once", store.Used(), sa.SizeBytes())
	}
}

func TestSlices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.wav")
	writeTestWav(t, path, 1000, 0.3)
	store := sample.NewStore(1 << 20)
	if _, err := store.Load("loop", path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := store.DefineSlice("loop", "head", 0, 250); err != nil {
		t.Fatalf("DefineSlice failed: %v", err)
	}
	if err := store.DefineSlice("loop", "bad", 500, 2000); err == nil {
		t.Errorf("out of bounds slice should fail")
	}
	if err := store.DefineSlice("loop", "bad", 300, 300); err == nil {
		t.Errorf("empty slice should fail")
	}
	s, region, err := store.Resolve("loop/head")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if s.Name != "loop" || region.Start != 0 || region.End != 250 {
		t.Errorf("Resolve = %v, %v", s.Name, region)
	}
	if _, region, err = store.Resolve("loop"); err != nil || region.Len() != 1000 {
		t.Errorf("whole sample resolve = %v, %v", region, err)
	}
	if _, _, err = store.Resolve("loop/tail"); err == nil {
		t.Errorf("unknown slice should fail")
	}
}

func TestEviction(t *testing.T) {
	dir := t.TempDir()
	writeTestWav(t, filepath.Join(dir, "a.wav"), 100, 0.1)
	writeTestWav(t, filepath.Join(dir, "b.wav"), 100, 0.2)
	writeTestWav(t, filepath.Join(dir, "c.wav"), 100, 0.3)
	// each decoded sample is 100 frames * 8 bytes; room for two
	store := sample.NewStore(2000)
	if _, err := store.Load("a", filepath.Join(dir, "a.wav")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := store.Load("b", filepath.Join(dir, "b.wav")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := store.Load("c", filepath.Join(dir, "c.wav")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := store.Get("a"); err == nil {
		t.Errorf("least recently used sample should have been evicted")
	}
	if _, err := store.Get("b"); err != nil {
		t.Errorf("b should still be cached: %v", err)
	}
	if _, err := store.Get("c"); err != nil {
		t.Errorf("c should still be cached: %v", err)
	}
	if store.Used() > 2000 {
		t.Errorf("Used = %v over budget", store.Used())
	}
}

func TestLoadLargerThanBudget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.wav")
	writeTestWav(t, path, 1000, 0.5)
	store := sample.NewStore(100)
	if _, err := store.Load("big", path); err == nil {
		t.Errorf("sample larger than the budget should fail to load")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "drums"), 0755); err != nil {
		t.Fatal(err)
	}
	writeTestWav(t, filepath.Join(dir, "lead.wav"), 100, 0.1)
	writeTestWav(t, filepath.Join(dir, "drums", "kick.wav"), 100, 0.2)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	store := sample.NewStore(1 << 20)
	names, err := store.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(names) != 2 || names[0] != "drums/kick" || names[1] != "lead" {
		t.Fatalf("LoadDir names = %v", names)
	}
	if _, region, err := store.Resolve("drums/kick"); err != nil || region.Len() != 100 {
		t.Errorf("Resolve of nested sample = %v, %v", region, err)
	}
	if _, err := store.Get("drums/kick"); err != nil {
		t.Errorf("Get of nested sample failed: %v", err)
	}
}

func TestResolveNestedNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "drums", "acoustic"), 0755); err != nil {
		t.Fatal(err)
	}
	writeTestWav(t, filepath.Join(dir, "drums", "acoustic", "kick.wav"), 400, 0.2)
	store := sample.NewStore(1 << 20)
	if _, err := store.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	s, region, err := store.Resolve("drums/acoustic/kick")
	if err != nil {
		t.Fatalf("Resolve of nested sample failed: %v", err)
	}
	if region.Len() != 400 {
		t.Errorf("Resolve region = %v", region)
	}
	if err := store.DefineSlice("drums/acoustic/kick", "tail", 200, 400); err != nil {
		t.Fatalf("DefineSlice failed: %v", err)
	}
	if s2, region, err := store.Resolve("drums/acoustic/kick/tail"); err != nil || s2 != s || region.Start != 200 {
		t.Errorf("Resolve of slice on nested sample = %v, %v", region, err)
	}
	if _, _, err := store.Resolve("drums/acoustic/snare"); err == nil {
		t.Errorf("unknown nested reference should fail")
	}
	// templates bind nested references through the same resolver
	spec := octamm.GraphSpec{
		Nodes: []octamm.NodeSpec{
			{Kind: "sampleplayer", Name: "player", Sample: "drums/acoustic/kick"},
			{Kind: "out", Name: "master"},
		},
		Connections: []octamm.Connection{{From: "player", To: "master", Port: "in"}},
	}
	template, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := template.BindSamples(store.Resolve); err != nil {
		t.Errorf("BindSamples with a nested sample name failed: %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	dir := t.TempDir()
	store := sample.NewStore(1 << 20)
	var ioErr *sample.IOError
	if _, err := store.Load("x", filepath.Join(dir, "missing.wav")); !errors.As(err, &ioErr) {
		t.Errorf("missing file should give IOError, got %v", err)
	}
	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(bad, []byte("not a wav at all"), 0644); err != nil {
		t.Fatal(err)
	}
	var decodeErr *sample.DecodeError
	if _, err := store.Load("x", bad); !errors.As(err, &decodeErr) {
		t.Errorf("garbage file should give DecodeError, got %v", err)
	}
}

func TestSetBaseFrequency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	writeTestWav(t, path, 100, 0.5)
	store := sample.NewStore(1 << 20)
	s, err := store.Load("tone", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := store.SetBaseFrequency("tone", 261.63); err != nil {
		t.Fatalf("SetBaseFrequency failed: %v", err)
	}
	if s.BaseFrequency != 261.63 {
		t.Errorf("base frequency = %v", s.BaseFrequency)
	}
	if err := store.SetBaseFrequency("tone", -1); err == nil {
		t.Errorf("negative base frequency should fail")
	}
}
