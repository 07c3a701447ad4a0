package runner

import (
	"fmt"
	"time"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/engine"
)

type (
	// Player renders audio blocks for the audio device. It owns the voice
	// pool and the sequencer and is driven from the audio goroutine; the
	// host talks to it only through the broker, and the player answers with
	// non-blocking sends, so rendering never waits on anybody.
	Player struct {
		pool   *engine.Pool
		seq    *Sequencer
		broker *Broker

		masterGain float32
		clip       octamm.ClipPolicy
		sampleRate int
		blockSize  int

		playing      bool
		frame        int64
		underruns    int
		live         bool
		midiTemplate *octamm.GraphTemplate
	}

	// PlayerProcessContext tells the player which MIDI events happen during
	// the current block. Frame numbers are relative to the block start.
	PlayerProcessContext interface {
		NextEvent(frame int) (event MIDINoteEvent, ok bool)
		FinishBlock(frame int)
	}

	// MIDINoteEvent is a MIDI note trigger or release within a block.
	MIDINoteEvent struct {
		Frame    int
		On       bool
		Channel  int
		Note     byte
		Velocity byte
	}
)

func NewPlayer(broker *Broker, cfg octamm.Config) *Player {
	return &Player{
		pool:       engine.NewPool(cfg.Polyphony, cfg.SampleRate, cfg.BlockSize),
		seq:        NewSequencer(octamm.Timeline{}),
		broker:     broker,
		masterGain: float32(cfg.MasterGain),
		clip:       cfg.ClipPolicy(),
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
	}
}

// SetLive enables deadline accounting: when processing a block takes longer
// than the block lasts, the device has underrun and the player reports it.
func (p *Player) SetLive(live bool) { p.live = live }

// Playing reports whether the sequencer is running.
func (p *Player) Playing() bool { return p.playing }

// Underruns returns the number of blocks that missed their deadline.
func (p *Player) Underruns() int { return p.underruns }

// Process fills the whole buffer with audio: sequencer events and MIDI
// events trigger voices at their exact frame offsets, the pool renders the
// stretches in between, and master gain and the clip policy shape the sum.
func (p *Player) Process(buffer octamm.AudioBuffer, context PlayerProcessContext) {
	start := time.Now()
	full := buffer
	total := len(buffer)
	p.processMessages()

	frame := 0
	var midi MIDINoteEvent
	midiOk := false
	if context != nil {
		midi, midiOk = context.NextEvent(frame)
	}
	for len(buffer) > 0 {
		for midiOk && frame >= midi.Frame {
			p.handleMidiInput(midi)
			midi, midiOk = context.NextEvent(frame)
		}
		if p.playing {
			for {
				due, ok := p.seq.PopDue()
				if !ok {
					break
				}
				if due.Late {
					p.sendAlert("LateEvent", fmt.Sprintf("event %d scheduled at tick %d arrived at %d", due.Event.ID, due.Event.Tick, p.seq.Tick()), Warning)
				}
				p.trigger(due.Event)
			}
		}
		n := len(buffer)
		if midiOk && midi.Frame-frame < n {
			n = midi.Frame - frame
		}
		if p.playing {
			if d := p.seq.NextDue(n); d < n {
				n = d
			}
		}
		if n < 1 {
			n = 1
		}
		if n > p.blockSize {
			n = p.blockSize
		}
		segment := buffer[:n]
		segment.Fill()
		p.pool.Render(segment)
		p.finishSegment(segment)
		if p.playing {
			p.seq.Advance(n)
		}
		buffer = buffer[n:]
		frame += n
		p.frame += int64(n)
	}
	if context != nil {
		context.FinishBlock(frame)
	}
	if p.live {
		budget := time.Duration(total) * time.Second / time.Duration(p.sampleRate)
		if time.Since(start) > budget {
			p.underruns++
			p.sendAlert("Underrun", fmt.Sprintf("block of %d frames missed its %v deadline", total, budget), Warning)
		}
	}
	// hand a copy of the rendered block to the host for scopes and meters;
	// if the host is not listening, the buffer goes straight back to the pool
	bufPtr := p.broker.GetAudioBuffer()
	*bufPtr = append(*bufPtr, full...)
	if !TrySend(p.broker.ToHost, MsgToHost{Buffer: bufPtr}) {
		p.broker.PutAudioBuffer(bufPtr)
	}
	TrySend(p.broker.ToHost, MsgToHost{
		HasPosition: true,
		Position:    p.frame,
		Voices:      p.pool.Active(),
		Underruns:   p.underruns,
	})
}

// finishSegment applies master gain and the clip policy in place.
func (p *Player) finishSegment(segment octamm.AudioBuffer) {
	for i := range segment {
		segment[i][0] = p.clip.Apply(segment[i][0] * p.masterGain)
		segment[i][1] = p.clip.Apply(segment[i][1] * p.masterGain)
	}
}

func (p *Player) trigger(e octamm.Event) {
	result := p.pool.Trigger(e)
	if result.Stolen {
		p.sendAlert("PoolExhausted", fmt.Sprintf("no free voice for event %d, cut note %d", e.ID, result.StolenID), Warning)
	}
}

func (p *Player) handleMidiInput(midi MIDINoteEvent) {
	id := midiNoteID(midi.Channel, midi.Note)
	if midi.On {
		if p.midiTemplate == nil {
			return
		}
		p.pool.Release(id)
		p.trigger(octamm.Event{
			Template: p.midiTemplate,
			Pitch:    octamm.NoteToFrequency(midi.Note),
			Velocity: float64(midi.Velocity) / 127,
			Duration: -1,
			ID:       id,
		})
	} else {
		p.pool.Release(id)
	}
}

// midiNoteID maps a channel and note to a note ID that can never collide
// with the positive IDs the host hands out.
func midiNoteID(channel int, note byte) int64 {
	return -int64(channel*128+int(note)) - 1
}

func (p *Player) processMessages() {
	for {
		select {
		case m := <-p.broker.ToPlayer:
			switch {
			case m.Schedule != nil:
				p.seq.Schedule(*m.Schedule)
			case m.Trigger != nil:
				p.trigger(*m.Trigger)
			case m.Release != 0:
				p.pool.Release(m.Release)
			case m.Start:
				p.playing = true
			case m.Stop:
				p.playing = false
				p.pool.ReleaseAll()
			case m.Panic:
				p.pool.Cut()
			case m.Seek != nil:
				p.seq.Seek(*m.Seek)
			case m.MidiTemplate != nil:
				p.midiTemplate = m.MidiTemplate
			}
		default:
			return
		}
	}
}

func (p *Player) sendAlert(name, message string, priority AlertPriority) {
	TrySend(p.broker.ToHost, MsgToHost{HasAlert: true, Alert: Alert{Name: name, Message: message, Priority: priority}})
}
