package octamm

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Score is a declarative YAML document describing what to play: a set of
	// named graphs and a list of events triggering them. It is the file format
	// behind `octamm play` and `octamm export`; scripted hosts construct the
	// same data through the host API instead.
	Score struct {
		// Graphs maps graph names to their definitions. A definition is either
		// a graph expression string or a full node/connection mapping.
		Graphs map[string]GraphDef `yaml:"graphs"`

		// Events lists the notes of the score.
		Events []ScoreEvent `yaml:"events"`
	}

	// GraphDef is one graph in a score, given either as an expression or as an
	// explicit GraphSpec.
	GraphDef struct {
		Expr string
		Spec GraphSpec
	}

	// ScoreEvent is one note in a score. Either Note (a MIDI note number) or
	// Freq (Hz) gives the pitch; Freq wins when both are set.
	ScoreEvent struct {
		Graph    string  `yaml:"graph"`
		Tick     int     `yaml:"tick"`
		Note     int     `yaml:"note,omitempty"`
		Freq     float64 `yaml:"freq,omitempty"`
		Velocity float64 `yaml:"velocity,omitempty"`
		Duration int     `yaml:"duration"`
	}
)

// UnmarshalYAML accepts either a plain string (a graph expression) or a
// mapping (a GraphSpec).
func (d *GraphDef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&d.Expr)
	}
	return value.Decode(&d.Spec)
}

func (d GraphDef) MarshalYAML() (interface{}, error) {
	if d.Expr != "" {
		return d.Expr, nil
	}
	return d.Spec, nil
}

// ReadScore parses a YAML score.
func ReadScore(r io.Reader) (Score, error) {
	var s Score
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Score{}, fmt.Errorf("could not parse score: %w", err)
	}
	return s, nil
}

// LoadScore reads a YAML score file.
func LoadScore(path string) (Score, error) {
	f, err := os.Open(path)
	if err != nil {
		return Score{}, fmt.Errorf("could not open score %v: %w", path, err)
	}
	defer f.Close()
	return ReadScore(f)
}

// Compile builds every graph of the score and schedules its events into a
// timeline. Sample references are resolved through resolve, which may be nil
// when the score uses no sampleplayer nodes.
func (s *Score) Compile(resolve func(ref string) (*Sample, Slice, error)) (Timeline, error) {
	templates := make(map[string]*GraphTemplate, len(s.Graphs))
	for name, def := range s.Graphs {
		spec := def.Spec
		if def.Expr != "" {
			var err error
			spec, err = ParseGraph(def.Expr)
			if err != nil {
				return Timeline{}, fmt.Errorf("graph %q: %w", name, err)
			}
		}
		t, err := spec.Build()
		if err != nil {
			return Timeline{}, fmt.Errorf("graph %q: %w", name, err)
		}
		if resolve != nil {
			if err := t.BindSamples(resolve); err != nil {
				return Timeline{}, fmt.Errorf("graph %q: %w", name, err)
			}
		}
		templates[name] = t
	}
	var timeline Timeline
	for i, e := range s.Events {
		t, ok := templates[e.Graph]
		if !ok {
			return Timeline{}, fmt.Errorf("event %d references unknown graph %q", i, e.Graph)
		}
		if e.Tick < 0 {
			return Timeline{}, fmt.Errorf("event %d has negative tick %d", i, e.Tick)
		}
		if e.Duration <= 0 {
			return Timeline{}, fmt.Errorf("event %d has no duration", i)
		}
		pitch := e.Freq
		if pitch == 0 {
			pitch = NoteToFrequency(byte(e.Note))
		}
		velocity := e.Velocity
		if velocity == 0 {
			velocity = 1
		}
		timeline.Schedule(Event{
			Tick:     e.Tick,
			Template: t,
			Pitch:    pitch,
			Velocity: velocity,
			Duration: e.Duration,
			ID:       int64(i + 1),
		})
	}
	return timeline, nil
}
