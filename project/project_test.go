package project_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/octamm/octamm/project"
)

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"abc123", "project-success", "project_success"} {
		if err := project.Create(dir, name); err != nil {
			t.Fatalf("Create(%q) failed: %v", name, err)
		}
		root := filepath.Join(dir, name)
		for _, sub := range []string{project.DirModules, project.DirSamples} {
			if _, err := os.Stat(filepath.Join(root, sub)); err != nil {
				t.Errorf("%v/%v missing: %v", name, sub, err)
			}
		}
		if _, err := os.Stat(filepath.Join(root, project.FileProgram)); err != nil {
			t.Errorf("%v/%v missing: %v", name, project.FileProgram, err)
		}
	}
	for _, name := range []string{"project fail", "project$fail", "project.fail", "project/fail", `project\fail`, ""} {
		err := project.Create(dir, name)
		if !errors.Is(err, project.ErrBadName) {
			t.Errorf("Create(%q) = %v, expected ErrBadName", name, err)
		}
	}
	if err := project.Create(filepath.Join(dir, "nonexistent"), "ok"); err == nil {
		t.Errorf("creating under a missing parent should fail")
	}
	if err := project.Create(dir, "abc123"); err == nil {
		t.Errorf("creating an existing project should fail")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := project.Create(dir, "winner"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	root := filepath.Join(dir, "winner")
	modules := filepath.Join(root, project.DirModules)
	if err := os.WriteFile(filepath.Join(modules, "a.luau"), []byte("-- a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(modules, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modules, "sub", "b.luau"), []byte("-- b"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modules, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := project.Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Name != "winner" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Program == "" {
		t.Errorf("program is empty")
	}
	if len(p.Modules) != 2 || p.Modules[0] != "-- a" || p.Modules[1] != "-- b" {
		t.Errorf("Modules = %q", p.Modules)
	}
	if p.Score != nil {
		t.Errorf("unexpected score")
	}
	if p.Config.SampleRate != 44100 {
		t.Errorf("config defaults not applied, samplerate = %v", p.Config.SampleRate)
	}
	if p.SamplesDir() != filepath.Join(root, project.DirSamples) {
		t.Errorf("SamplesDir = %q", p.SamplesDir())
	}
}

func TestLoadWithConfigAndScore(t *testing.T) {
	dir := t.TempDir()
	if err := project.Create(dir, "tuned"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	root := filepath.Join(dir, "tuned")
	if err := os.WriteFile(filepath.Join(root, project.FileConfig), []byte("samplerate: 48000\npolyphony: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}
	score := "graphs:\n  lead: \"sine\"\nevents:\n  - graph: lead\n    tick: 0\n    note: 69\n    duration: 1000\n"
	if err := os.WriteFile(filepath.Join(root, project.FileScore), []byte(score), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := project.Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Config.SampleRate != 48000 || p.Config.Polyphony != 8 {
		t.Errorf("config not loaded: %+v", p.Config)
	}
	if p.Score == nil || len(p.Score.Events) != 1 {
		t.Fatalf("score not loaded: %+v", p.Score)
	}
}

func TestLoadMissingProgram(t *testing.T) {
	if _, err := project.Load(t.TempDir()); !errors.Is(err, project.ErrNoProgram) {
		t.Errorf("Load = %v, expected ErrNoProgram", err)
	}
}
