package octamm

import "sort"

type (
	// Event is one scheduled trigger: at tick Tick, start a voice playing
	// Template at the given pitch and velocity. Events are immutable once
	// scheduled. Events with equal ticks keep their scheduling order.
	Event struct {
		// Tick is the sample-accurate trigger time, in frames from the start
		// of the timeline.
		Tick int

		// Template is the validated graph the voice will play.
		Template *GraphTemplate

		// Pitch is the requested frequency in Hz.
		Pitch float64

		// Velocity scales the voice gain, 0 .. 1.
		Velocity float64

		// Duration is how long the note is held, in frames. Negative means
		// open-ended: the note plays until released by ID.
		Duration int

		// ID identifies the event for later release of open-ended notes.
		ID int64
	}

	// Timeline is an ordered sequence of events, either fully pre-scheduled
	// (export) or incrementally appended (live). Not safe for concurrent use;
	// the sequencer owns it.
	Timeline struct {
		events []Event
	}
)

// Schedule inserts an event, maintaining timestamp order. Events with equal
// ticks stay in insertion order, so dispatch is stable.
func (t *Timeline) Schedule(e Event) {
	i := sort.Search(len(t.events), func(i int) bool {
		return t.events[i].Tick > e.Tick
	})
	t.events = append(t.events, Event{})
	copy(t.events[i+1:], t.events[i:])
	t.events[i] = e
}

// Len returns the number of scheduled events.
func (t *Timeline) Len() int { return len(t.events) }

// At returns the event at the given index.
func (t *Timeline) At(i int) Event { return t.events[i] }

// EndTick returns the tick at which the last note ends (trigger tick plus
// duration). Open-ended events count only their trigger tick.
func (t *Timeline) EndTick() int {
	end := 0
	for _, e := range t.events {
		tick := e.Tick
		if e.Duration > 0 {
			tick += e.Duration
		}
		if tick > end {
			end = tick
		}
	}
	return end
}

// Copy makes a deep copy of the timeline.
func (t *Timeline) Copy() Timeline {
	events := make([]Event, len(t.events))
	copy(events, t.events)
	return Timeline{events: events}
}
