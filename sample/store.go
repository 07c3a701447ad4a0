// Package sample loads audio samples from disk and caches the decoded data
// under a memory budget. Decoded samples are immutable and shared by
// reference; the store deduplicates identical file contents and evicts the
// least recently used samples when the budget is exceeded. Eviction only
// removes samples from the cache: graphs that already bound a sample keep
// their reference and play on.
package sample

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/octamm/octamm"
)

type (
	// Store is the sample cache. Safe for concurrent use; the render thread
	// never touches it, since templates bind their samples up front.
	Store struct {
		mu      sync.Mutex
		budget  int64
		used    int64
		entries map[string]*entry // by sample name
		byHash  map[string]*entry // by content hash, for deduplication
		lru     *list.List        // of *entry, front is most recently used
	}

	entry struct {
		sample *octamm.Sample
		path   string
		hash   string
		names  []string
		slices map[string]octamm.Slice
		elem   *list.Element
	}
)

// NewStore creates a sample store with the given memory budget in bytes.
func NewStore(budget int64) *Store {
	return &Store{
		budget:  budget,
		entries: make(map[string]*entry),
		byHash:  make(map[string]*entry),
		lru:     list.New(),
	}
}

// Load reads and decodes the WAV file at path and caches it under name. If
// the file contents are byte-identical to an already loaded sample, the
// decoded data is shared and name becomes an alias for it. Reloading an
// existing name with different contents replaces it.
func (s *Store) Load(name, path string) (*octamm.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byHash[hash]; ok {
		s.alias(name, e)
		s.lru.MoveToFront(e.elem)
		return e.sample, nil
	}
	decoded, err := decode(name, path, data)
	if err != nil {
		return nil, err
	}
	size := decoded.SizeBytes()
	if size > s.budget {
		return nil, fmt.Errorf("sample %v is %d bytes, larger than the whole cache budget %d", path, size, s.budget)
	}
	s.makeRoom(size)
	e := &entry{
		sample: decoded,
		path:   path,
		hash:   hash,
		slices: make(map[string]octamm.Slice),
	}
	e.elem = s.lru.PushFront(e)
	s.byHash[hash] = e
	s.used += size
	s.alias(name, e)
	return decoded, nil
}

// alias binds name to the entry, detaching it from any previous entry first.
func (s *Store) alias(name string, e *entry) {
	if old, ok := s.entries[name]; ok && old != e {
		s.dropName(old, name)
	}
	s.entries[name] = e
	for _, n := range e.names {
		if n == name {
			return
		}
	}
	e.names = append(e.names, name)
}

func (s *Store) dropName(e *entry, name string) {
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			break
		}
	}
	if len(e.names) == 0 {
		s.removeEntry(e)
	}
}

func (s *Store) removeEntry(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.byHash, e.hash)
	s.used -= e.sample.SizeBytes()
}

// makeRoom evicts least recently used samples until size fits in the budget.
func (s *Store) makeRoom(size int64) {
	for s.used+size > s.budget {
		back := s.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		for _, n := range e.names {
			delete(s.entries, n)
		}
		e.names = nil
		s.removeEntry(e)
	}
}

// Get returns the cached sample with the given name.
func (s *Store) Get(name string) (*octamm.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("no sample named %q is loaded", name)
	}
	s.lru.MoveToFront(e.elem)
	return e.sample, nil
}

// SetBaseFrequency sets the pitch the named sample plays at when read back at
// its native rate. Must be called before the sample is bound to a graph.
func (s *Store) SetBaseFrequency(name string, freq float64) error {
	if freq <= 0 {
		return fmt.Errorf("base frequency must be positive, got %v", freq)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("no sample named %q is loaded", name)
	}
	e.sample.BaseFrequency = freq
	return nil
}

// DefineSlice names a sub-region of a loaded sample, in frames. The region
// must lie within the sample; redefining an existing slice name replaces it.
func (s *Store) DefineSlice(sampleName, sliceName string, start, end int) error {
	if sliceName == "" || strings.Contains(sliceName, "/") {
		return fmt.Errorf("invalid slice name %q", sliceName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sampleName]
	if !ok {
		return fmt.Errorf("no sample named %q is loaded", sampleName)
	}
	region := octamm.Slice{Start: start, End: end}
	if err := e.sample.CheckBounds(region); err != nil {
		return err
	}
	e.slices[sliceName] = region
	return nil
}

// Resolve looks up a sample reference of the form "name" or "name/slice",
// returning the sample and the region to play. Sample names may themselves
// contain slashes (LoadDir names nested files that way), so the full ref is
// tried as a sample name first; only when that fails is the part after the
// last slash treated as a slice name. Slice names never contain slashes, so
// the split is unambiguous. This is the resolver that
// (*octamm.GraphTemplate).BindSamples expects.
func (s *Store) Resolve(ref string) (*octamm.Sample, octamm.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ref]; ok {
		s.lru.MoveToFront(e.elem)
		return e.sample, e.sample.Whole(), nil
	}
	cut := strings.LastIndex(ref, "/")
	if cut < 0 {
		return nil, octamm.Slice{}, fmt.Errorf("no sample named %q is loaded", ref)
	}
	name, sliceName := ref[:cut], ref[cut+1:]
	e, ok := s.entries[name]
	if !ok {
		return nil, octamm.Slice{}, fmt.Errorf("no sample named %q is loaded", name)
	}
	s.lru.MoveToFront(e.elem)
	region, ok := e.slices[sliceName]
	if !ok {
		return nil, octamm.Slice{}, fmt.Errorf("sample %q has no slice named %q", name, sliceName)
	}
	return e.sample, region, nil
}

// LoadDir loads every .wav file under dir, recursively. Sample names are the
// slash-separated paths relative to dir, without the extension. Returns the
// names loaded, sorted.
func (s *Store) LoadDir(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &IOError{Path: path, Err: err}
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
		if _, err := s.Load(name, path); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Used returns the decoded bytes currently cached.
func (s *Store) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Budget returns the cache memory budget in bytes.
func (s *Store) Budget() int64 { return s.budget }

// Names returns the names of all cached samples, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
