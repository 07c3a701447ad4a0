package runner

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/sample"
)

// Host is the control surface of the engine: the API that scripts and CLIs
// drive. It owns the sample store and the graph registry, keeps its own copy
// of the timeline for offline export, and forwards all playback commands to
// the player through the broker. Host methods are safe to call from any
// goroutine; none of them ever block the audio thread.
type Host struct {
	cfg    octamm.Config
	store  *sample.Store
	broker *Broker
	player *Player

	mu       sync.Mutex
	graphs   map[string]*octamm.GraphTemplate
	timeline octamm.Timeline

	nextID   atomic.Int64
	playback octamm.CloserWaiter
}

// NewHost creates a host with the given configuration.
func NewHost(cfg octamm.Config) (*Host, error) {
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	broker := NewBroker()
	return &Host{
		cfg:    cfg,
		store:  sample.NewStore(cfg.SampleBudget),
		broker: broker,
		player: NewPlayer(broker, cfg),
		graphs: make(map[string]*octamm.GraphTemplate),
	}, nil
}

// Config returns the host configuration.
func (h *Host) Config() octamm.Config { return h.cfg }

// Broker returns the message broker, for wiring up custom diagnostics
// consumers.
func (h *Host) Broker() *Broker { return h.broker }

// Diagnostics is the channel of alerts and position reports from the player.
func (h *Host) Diagnostics() <-chan MsgToHost { return h.broker.ToHost }

// Store returns the sample store.
func (h *Host) Store() *sample.Store { return h.store }

// LoadSample loads a WAV file into the store under the given name.
func (h *Host) LoadSample(name, path string) error {
	_, err := h.store.Load(name, path)
	return err
}

// LoadSampleDir loads every WAV file under dir, returning the sample names.
func (h *Host) LoadSampleDir(dir string) ([]string, error) {
	return h.store.LoadDir(dir)
}

// DefineSlice names a sub-region of a loaded sample, in frames.
func (h *Host) DefineSlice(sampleName, sliceName string, start, end int) error {
	return h.store.DefineSlice(sampleName, sliceName, start, end)
}

// SetBaseFrequency sets the natural pitch of a loaded sample.
func (h *Host) SetBaseFrequency(sampleName string, freq float64) error {
	return h.store.SetBaseFrequency(sampleName, freq)
}

// DefineGraph validates a graph spec, binds its sample references and
// registers it under the given name. Redefining a name affects only notes
// triggered afterwards; sounding voices keep the template they started with.
func (h *Host) DefineGraph(name string, spec octamm.GraphSpec) error {
	if name == "" {
		return fmt.Errorf("graph needs a name")
	}
	template, err := spec.Build()
	if err != nil {
		return fmt.Errorf("graph %q: %w", name, err)
	}
	if err := template.BindSamples(h.store.Resolve); err != nil {
		return fmt.Errorf("graph %q: %w", name, err)
	}
	h.mu.Lock()
	h.graphs[name] = template
	h.mu.Unlock()
	return nil
}

// DefineGraphExpr parses a graph expression and registers it, like
// DefineGraph.
func (h *Host) DefineGraphExpr(name, expr string) error {
	spec, err := octamm.ParseGraph(expr)
	if err != nil {
		return fmt.Errorf("graph %q: %w", name, err)
	}
	return h.DefineGraph(name, spec)
}

// Graph returns the registered template with the given name.
func (h *Host) Graph(name string) (*octamm.GraphTemplate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.graphs[name]
	if !ok {
		return nil, fmt.Errorf("no graph named %q is defined", name)
	}
	return t, nil
}

// Schedule adds a note to the timeline: play graph at the given tick, pitch
// in Hz and velocity, holding for duration frames (negative means until
// stopped). Returns the note ID for a later Stop.
func (h *Host) Schedule(graph string, tick int, pitch, velocity float64, duration int) (int64, error) {
	template, err := h.Graph(graph)
	if err != nil {
		return 0, err
	}
	if tick < 0 {
		return 0, fmt.Errorf("cannot schedule at negative tick %d", tick)
	}
	e := octamm.Event{
		Tick:     tick,
		Template: template,
		Pitch:    pitch,
		Velocity: velocity,
		Duration: duration,
		ID:       h.nextID.Add(1),
	}
	if err := h.send(MsgToPlayer{Schedule: &e}); err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.timeline.Schedule(e)
	h.mu.Unlock()
	return e.ID, nil
}

// PlayNow triggers a note immediately, outside the timeline. The note plays
// until stopped by ID.
func (h *Host) PlayNow(graph string, pitch, velocity float64) (int64, error) {
	template, err := h.Graph(graph)
	if err != nil {
		return 0, err
	}
	e := octamm.Event{
		Template: template,
		Pitch:    pitch,
		Velocity: velocity,
		Duration: -1,
		ID:       h.nextID.Add(1),
	}
	if err := h.send(MsgToPlayer{Trigger: &e}); err != nil {
		return 0, err
	}
	return e.ID, nil
}

// Stop releases the note with the given ID.
func (h *Host) Stop(id int64) error {
	return h.send(MsgToPlayer{Release: id})
}

// Start starts the sequencer.
func (h *Host) Start() error {
	return h.send(MsgToPlayer{Start: true})
}

// StopPlayback stops the sequencer at the next block boundary, releasing all
// voices.
func (h *Host) StopPlayback() error {
	return h.send(MsgToPlayer{Stop: true})
}

// Panic cuts all voices immediately.
func (h *Host) Panic() error {
	return h.send(MsgToPlayer{Panic: true})
}

// Seek moves the sequencer playhead.
func (h *Host) Seek(tick int) error {
	return h.send(MsgToPlayer{Seek: &tick})
}

// SetMidiGraph sets the graph that live MIDI input plays.
func (h *Host) SetMidiGraph(name string) error {
	template, err := h.Graph(name)
	if err != nil {
		return err
	}
	return h.send(MsgToPlayer{MidiTemplate: template})
}

// send forwards a command to the player. The command channel only fills up
// when the player is not draining it, so rather than dropping the command
// silently the failure is reported to the caller.
func (h *Host) send(m MsgToPlayer) error {
	if !TrySend(h.broker.ToPlayer, m) {
		return fmt.Errorf("player command queue is full")
	}
	return nil
}

// LoadScore compiles a score against the host's sample store, registers its
// graphs and schedules its events.
func (h *Host) LoadScore(score octamm.Score) error {
	for name, def := range score.Graphs {
		var err error
		if def.Expr != "" {
			err = h.DefineGraphExpr(name, def.Expr)
		} else {
			err = h.DefineGraph(name, def.Spec)
		}
		if err != nil {
			return err
		}
	}
	for i, e := range score.Events {
		pitch := e.Freq
		if pitch == 0 {
			pitch = octamm.NoteToFrequency(byte(e.Note))
		}
		velocity := e.Velocity
		if velocity == 0 {
			velocity = 1
		}
		if _, err := h.Schedule(e.Graph, e.Tick, pitch, velocity, e.Duration); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// Timeline returns a copy of the scheduled timeline.
func (h *Host) Timeline() octamm.Timeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeline.Copy()
}

// Export renders the scheduled timeline offline and writes it to path in the
// configured export format.
func (h *Host) Export(path string) error {
	return Export(path, h.Timeline(), h.cfg)
}

// StartAudio begins live playback: the audio context pulls blocks from the
// player, with MIDI events from midi (which may be nil) woven in at their
// frame offsets.
func (h *Host) StartAudio(ctx octamm.AudioContext, midi PlayerProcessContext) error {
	if h.playback != nil {
		return fmt.Errorf("audio is already running")
	}
	h.player.SetLive(true)
	h.playback = ctx.Play(func(buffer octamm.AudioBuffer) error {
		h.player.Process(buffer, midi)
		return nil
	})
	return nil
}

// StopAudio stops live playback and waits for the audio goroutine to finish.
func (h *Host) StopAudio() {
	if h.playback == nil {
		return
	}
	h.playback.Close()
	h.playback.Wait()
	h.playback = nil
	h.player.SetLive(false)
}

// Process renders one block synchronously. This is how offline drivers and
// tests pump the player without an audio device.
func (h *Host) Process(buffer octamm.AudioBuffer, midi PlayerProcessContext) {
	h.player.Process(buffer, midi)
}
