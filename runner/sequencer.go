package runner

import (
	"github.com/octamm/octamm"
)

type (
	// Sequencer walks a timeline and dispatches events as the playhead
	// passes them. Events scheduled behind the playhead are never dropped:
	// they dispatch immediately, flagged late so the player can warn about
	// them. Equal-tick events dispatch in their scheduling order. Owned by
	// the player goroutine; not safe for concurrent use.
	Sequencer struct {
		timeline octamm.Timeline
		next     int
		tick     int
		late     []octamm.Event
	}

	// DueEvent is an event whose trigger falls within the current block.
	DueEvent struct {
		Event  octamm.Event
		Offset int // frames from the start of the block
		Late   bool
	}
)

func NewSequencer(timeline octamm.Timeline) *Sequencer {
	return &Sequencer{timeline: timeline}
}

// Schedule adds an event to the timeline. An event behind the playhead would
// land behind the dispatch cursor too, so it goes to a separate late queue
// and dispatches at the next opportunity instead of being dropped.
func (s *Sequencer) Schedule(e octamm.Event) {
	if e.Tick < s.tick {
		s.late = append(s.late, e)
		return
	}
	s.timeline.Schedule(e)
}

// Tick returns the playhead position in frames.
func (s *Sequencer) Tick() int { return s.tick }

// Seek moves the playhead, re-arming every event at or after the new
// position.
func (s *Sequencer) Seek(tick int) {
	s.tick = tick
	s.next = 0
	s.late = s.late[:0]
	for s.next < s.timeline.Len() && s.timeline.At(s.next).Tick < tick {
		s.next++
	}
}

// NextDue returns the frame offset of the next event within a block of n
// frames, or n if none is due.
func (s *Sequencer) NextDue(n int) int {
	if len(s.late) > 0 {
		return 0
	}
	if s.next >= s.timeline.Len() {
		return n
	}
	offset := s.timeline.At(s.next).Tick - s.tick
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		return n
	}
	return offset
}

// PopDue returns the events due at the current playhead, one at a time. Late
// events come first, in their scheduling order.
func (s *Sequencer) PopDue() (due DueEvent, ok bool) {
	if len(s.late) > 0 {
		e := s.late[0]
		copy(s.late, s.late[1:])
		s.late = s.late[:len(s.late)-1]
		return DueEvent{Event: e, Late: true}, true
	}
	if s.next >= s.timeline.Len() {
		return DueEvent{}, false
	}
	e := s.timeline.At(s.next)
	if e.Tick > s.tick {
		return DueEvent{}, false
	}
	s.next++
	return DueEvent{Event: e, Offset: 0, Late: e.Tick < s.tick}, true
}

// Advance moves the playhead forward by n frames.
func (s *Sequencer) Advance(n int) {
	s.tick += n
}

// Done reports whether every event has been dispatched.
func (s *Sequencer) Done() bool {
	return len(s.late) == 0 && s.next >= s.timeline.Len()
}

// EndTick returns the tick at which the last scheduled note ends.
func (s *Sequencer) EndTick() int {
	return s.timeline.EndTick()
}
