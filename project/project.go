// Package project implements the on-disk project layout: a program.luau entry
// script, a modules directory of reusable scripts, a samples directory and
// optional config and score files.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/octamm/octamm"
)

const (
	DirModules  = "modules"
	DirSamples  = "samples"
	FileProgram = "program.luau"
	FileConfig  = "config.yml"
	FileScore   = "score.yml"
)

var (
	ErrBadName   = errors.New("project names may only contain letters, digits, '_' and '-'")
	ErrNoProgram = errors.New("missing " + FileProgram)
)

// Project is a loaded project directory. The program and module sources are
// kept as raw strings; executing them is the script host's business, not the
// engine's.
type Project struct {
	Name    string
	Path    string
	Program string
	Modules []string
	Config  octamm.Config
	Score   *octamm.Score
}

const programTemplate = `-- %s
-- Entry point: the host runs this script against the engine API.
-- Reusable scripts go under %s/, samples under %s/.
`

// ValidName reports whether name is usable as a project directory name.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Create scaffolds a new project directory under path. The parent directory
// has to exist already; the project directory may not.
func Create(path, name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot use path %v: %w", path, err)
	}
	root := filepath.Join(path, name)
	if err := os.Mkdir(root, 0755); err != nil {
		return fmt.Errorf("cannot create project directory: %w", err)
	}
	for _, dir := range []string{DirModules, DirSamples} {
		if err := os.Mkdir(filepath.Join(root, dir), 0755); err != nil {
			return fmt.Errorf("cannot create %v directory: %w", dir, err)
		}
	}
	program := fmt.Sprintf(programTemplate, name, DirModules, DirSamples)
	if err := os.WriteFile(filepath.Join(root, FileProgram), []byte(program), 0644); err != nil {
		return fmt.Errorf("cannot create %v: %w", FileProgram, err)
	}
	return nil
}

// Load reads a project directory: the entry program is required, everything
// else is optional.
func Load(path string) (*Project, error) {
	path = filepath.Clean(path)
	program, err := os.ReadFile(filepath.Join(path, FileProgram))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, ErrNoProgram)
	}
	modules, err := modulesUnderDir(filepath.Join(path, DirModules))
	if err != nil {
		return nil, err
	}
	cfg, err := octamm.LoadConfig(filepath.Join(path, FileConfig))
	if err != nil {
		return nil, err
	}
	p := &Project{
		Name:    filepath.Base(path),
		Path:    path,
		Program: string(program),
		Modules: modules,
		Config:  cfg,
	}
	scorePath := filepath.Join(path, FileScore)
	if f, err := os.Open(scorePath); err == nil {
		defer f.Close()
		score, err := octamm.ReadScore(f)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", scorePath, err)
		}
		p.Score = &score
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot open %v: %w", scorePath, err)
	}
	return p, nil
}

// SamplesDir returns the directory searched for the project's samples.
func (p *Project) SamplesDir() string {
	return filepath.Join(p.Path, DirSamples)
}

// modulesUnderDir collects the contents of every .luau file under dir,
// recursively, in path order. A missing directory yields no modules.
func modulesUnderDir(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".luau") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read modules: %w", err)
	}
	sort.Strings(paths)
	modules := make([]string, 0, len(paths))
	for _, path := range paths {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read module %v: %w", path, err)
		}
		modules = append(modules, string(contents))
	}
	return modules, nil
}
