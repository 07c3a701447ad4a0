package engine

import (
	"github.com/octamm/octamm"
)

type (
	// Pool is a fixed set of voices with a hard polyphony ceiling. Triggering
	// a note when every voice is busy steals one: released voices are
	// preferred over playing ones, and among equals the one that has played
	// longest, lowest voice index breaking remaining ties. Instances are
	// cached per template so that retriggering a graph never allocates.
	Pool struct {
		voices     []voice
		cache      map[*octamm.GraphTemplate][]*Instance
		sampleRate int
		blockSize  int
		clock      uint64
		active     int
	}

	voice struct {
		instance  *Instance
		noteID    int64
		freq      float64
		amp       float64
		sustain   bool
		held      int // frames of gate left; < 0 means held until released
		age       int // frames since the voice was triggered
		inUse     bool
	}

	// TriggerResult tells what happened to a trigger request.
	TriggerResult struct {
		Voice  int
		Stolen bool
		// StolenID is the note ID of the voice that was cut, when Stolen.
		StolenID int64
	}
)

// NewPool creates a pool with the given polyphony ceiling.
func NewPool(polyphony, sampleRate, blockSize int) *Pool {
	return &Pool{
		voices:     make([]voice, polyphony),
		cache:      make(map[*octamm.GraphTemplate][]*Instance),
		sampleRate: sampleRate,
		blockSize:  blockSize,
	}
}

// Polyphony returns the voice ceiling.
func (p *Pool) Polyphony() int { return len(p.voices) }

// Active returns the number of voices currently sounding.
func (p *Pool) Active() int { return p.active }

// Trigger starts a voice for the event, stealing one if the pool is full.
func (p *Pool) Trigger(e octamm.Event) TriggerResult {
	chosen := -1
	for i := range p.voices {
		if !p.voices[i].inUse {
			chosen = i
			break
		}
	}
	result := TriggerResult{}
	if chosen < 0 {
		chosen = p.victim()
		result.Stolen = true
		result.StolenID = p.voices[chosen].noteID
		p.retire(chosen)
	}
	result.Voice = chosen
	v := &p.voices[chosen]
	v.instance = p.instanceFor(e.Template)
	v.noteID = e.ID
	v.freq = e.Pitch
	v.amp = e.Velocity
	v.sustain = true
	v.held = e.Duration
	v.age = 0
	v.inUse = true
	p.active++
	return result
}

// victim picks the voice to steal: released before playing, oldest first,
// lowest index on equal age.
func (p *Pool) victim() int {
	best := 0
	bestReleased := false
	bestAge := -1
	for i := range p.voices {
		released := !p.voices[i].sustain
		if (released && !bestReleased) ||
			(released == bestReleased && p.voices[i].age > bestAge) {
			best = i
			bestReleased = released
			bestAge = p.voices[i].age
		}
	}
	return best
}

// Release turns off the gate of every voice playing the given note ID.
func (p *Pool) Release(noteID int64) {
	for i := range p.voices {
		if p.voices[i].inUse && p.voices[i].noteID == noteID {
			p.voices[i].sustain = false
		}
	}
}

// ReleaseAll turns off every gate, letting all voices ring out.
func (p *Pool) ReleaseAll() {
	for i := range p.voices {
		if p.voices[i].inUse {
			p.voices[i].sustain = false
		}
	}
}

// Cut silences every voice immediately.
func (p *Pool) Cut() {
	for i := range p.voices {
		if p.voices[i].inUse {
			p.retire(i)
		}
	}
}

// Render mixes one segment of all active voices into mix, advancing note
// durations and retiring voices that have decayed to rest. len(mix) must not
// exceed the pool block size.
func (p *Pool) Render(mix [][2]float32) {
	n := len(mix)
	for i := range p.voices {
		v := &p.voices[i]
		if !v.inUse {
			continue
		}
		rendered := 0
		if v.sustain && v.held >= 0 {
			gateOn := v.held
			if gateOn > n {
				gateOn = n
			}
			if gateOn > 0 {
				v.instance.Render(mix[:gateOn], Controls{Freq: v.freq, Amp: v.amp, Gate: true})
				rendered = gateOn
			}
			v.held -= gateOn
			if v.held == 0 {
				v.sustain = false
			}
		} else if v.sustain {
			v.instance.Render(mix, Controls{Freq: v.freq, Amp: v.amp, Gate: true})
			rendered = n
		}
		if rendered < n {
			// graphs with nothing left to ring out are cut at the gate-off
			// point instead of sounding to the end of the block
			if v.instance.Quiet() {
				p.retire(i)
				continue
			}
			v.instance.Render(mix[rendered:], Controls{Freq: v.freq, Amp: v.amp, Gate: false})
		}
		v.age += n
		if !v.sustain && v.instance.Quiet() {
			p.retire(i)
		}
	}
}

// retire frees the voice and returns its instance to the template cache.
func (p *Pool) retire(i int) {
	v := &p.voices[i]
	if v.instance != nil {
		p.cache[v.instance.Template()] = append(p.cache[v.instance.Template()], v.instance)
	}
	*v = voice{}
	p.active--
}

func (p *Pool) instanceFor(t *octamm.GraphTemplate) *Instance {
	free := p.cache[t]
	if len(free) > 0 {
		in := free[len(free)-1]
		p.cache[t] = free[:len(free)-1]
		in.Reset()
		return in
	}
	return NewInstance(t, p.sampleRate, p.blockSize)
}
