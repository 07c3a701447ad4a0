// Package engine evaluates built graph templates into audio. An Instance is
// the per-voice mutable state of one template; the Pool owns a fixed number
// of voices and mixes them. Nothing in this package allocates or locks while
// rendering, so it is safe to drive from the audio callback.
package engine

import (
	"math"

	"github.com/octamm/octamm"
)

type (
	// Instance is the per-voice state of a graph template: one scratch buffer
	// and one state record per node. Instances are reused between notes of
	// the same template; Reset puts them back to their initial state.
	Instance struct {
		template   *octamm.GraphTemplate
		sampleRate int
		blockSize  int
		bufs       [][]float32
		state      []nodeState
		outGainL   float32
		outGainR   float32
		outSource  int
		hasEnv     bool
		hasSample  bool
	}

	// Controls are the per-voice signals that control nodes read.
	Controls struct {
		Freq float64
		Amp  float64
		Gate bool
	}

	envStage int

	nodeState struct {
		phase float64 // oscillator
		rng   uint64  // noise

		stage       envStage // envelope
		level       float64
		releaseStep float64

		pos  float64 // sampleplayer
		done bool

		low  float32 // filter
		band float32

		line []float32 // delay
		lp   int
		wet  []float32
		prev []float32 // dry input, one segment late
		ph   int
		pn   int
	}
)

const (
	envAttack envStage = iota
	envDecay
	envSustain
	envRelease
	envIdle
)

const noiseSeed = 0x853c49e6748fea9b

// NewInstance allocates the evaluation state for one voice of the template.
func NewInstance(t *octamm.GraphTemplate, sampleRate, blockSize int) *Instance {
	in := &Instance{
		template:   t,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		bufs:       make([][]float32, t.NumNodes()),
		state:      make([]nodeState, t.NumNodes()),
	}
	for i := 0; i < t.NumNodes(); i++ {
		if t.Kind(i) != "out" {
			in.bufs[i] = make([]float32, blockSize)
		}
		switch t.Kind(i) {
		case "envelope":
			in.hasEnv = true
		case "sampleplayer":
			in.hasSample = true
		case "delay":
			frames := int(t.Param(i, "time") * float64(sampleRate))
			if frames < 1 {
				frames = 1
			}
			in.state[i].line = make([]float32, frames)
			if t.InFeedbackLoop(i) {
				in.state[i].wet = make([]float32, blockSize)
				in.state[i].prev = make([]float32, blockSize)
			}
		}
	}
	out := t.OutNode()
	gain := float32(t.Param(out, "gain"))
	pan := t.Param(out, "pan")
	in.outGainL = gain * float32(math.Sqrt(1-pan))
	in.outGainR = gain * float32(math.Sqrt(pan))
	in.outSource, _ = t.Input(out, "in")
	in.Reset()
	return in
}

// Template returns the template the instance evaluates.
func (in *Instance) Template() *octamm.GraphTemplate { return in.template }

// Reset returns the instance to its initial state, ready to play a new note.
func (in *Instance) Reset() {
	t := in.template
	for i := range in.state {
		s := &in.state[i]
		line, wet, prev := s.line, s.wet, s.prev
		*s = nodeState{line: line, wet: wet, prev: prev}
		switch t.Kind(i) {
		case "constant":
			fill(in.bufs[i], float32(t.Param(i, "value")))
		case "oscillator":
			s.phase = t.Param(i, "phase")
		case "noise":
			s.rng = noiseSeed + uint64(i)
		case "sampleplayer":
			if _, region, ok := t.SampleFor(i); ok {
				s.pos = float64(region.Start)
			}
		case "delay":
			for j := range s.line {
				s.line[j] = 0
			}
		}
	}
}

// Quiet reports whether the voice has decayed to rest: all envelopes have
// finished their release and all non-looping samples have played out. Graphs
// without envelopes or samples are quiet as soon as the gate is off, so the
// caller should only consult this after releasing the voice.
func (in *Instance) Quiet() bool {
	t := in.template
	for i := range in.state {
		switch t.Kind(i) {
		case "envelope":
			if in.state[i].stage != envIdle {
				return false
			}
		case "sampleplayer":
			if t.Param(i, "loop") == 0 && !in.state[i].done {
				return false
			}
		}
	}
	return true
}

// Render evaluates one segment of up to blockSize frames and accumulates the
// voice output into mix.
func (in *Instance) Render(mix [][2]float32, c Controls) {
	n := len(mix)
	if n > in.blockSize {
		n = in.blockSize
	}
	t := in.template
	for _, node := range t.Order() {
		switch t.Kind(node) {
		case "constant", "out":
			// constants are prefilled; out is consumed below
		case "control":
			in.renderControl(node, n, c)
		case "oscillator":
			in.renderOscillator(node, n, c)
		case "noise":
			in.renderNoise(node, n)
		case "envelope":
			in.renderEnvelope(node, n, c)
		case "sampleplayer":
			in.renderSamplePlayer(node, n, c)
		case "filter":
			in.renderFilter(node, n)
		case "gain":
			in.renderGain(node, n)
		case "multiply":
			in.renderMultiply(node, n)
		case "mix":
			in.renderMix(node, n)
		case "delay":
			if t.InFeedbackLoop(node) {
				in.renderDelayRead(node, n)
			} else {
				in.renderDelayInline(node, n)
			}
		}
	}
	src := in.bufs[in.outSource][:n]
	for i := 0; i < n; i++ {
		mix[i][0] += src[i] * in.outGainL
		mix[i][1] += src[i] * in.outGainR
	}
	// delays in a feedback loop consume their input only now, which is what
	// makes the loop well defined
	for _, node := range t.Order() {
		if t.Kind(node) == "delay" && t.InFeedbackLoop(node) {
			in.renderDelayWrite(node, n)
		}
	}
}

func (in *Instance) renderControl(node, n int, c Controls) {
	var v float32
	switch in.template.ControlName(node) {
	case octamm.ControlFreq:
		v = float32(c.Freq)
	case octamm.ControlAmp:
		v = float32(c.Amp)
	case octamm.ControlGate:
		if c.Gate {
			v = 1
		}
	}
	fill(in.bufs[node][:n], v)
}

func (in *Instance) renderOscillator(node, n int, c Controls) {
	t := in.template
	s := &in.state[node]
	buf := in.bufs[node][:n]
	freqBuf := in.inputBuf(node, "freq")
	transpose := math.Exp2(t.Param(node, "transpose") / 12)
	wave := int(t.Param(node, "wave"))
	pw := t.Param(node, "pulsewidth")
	gain := float32(t.Param(node, "gain"))
	baseStep := c.Freq * transpose / float64(in.sampleRate)
	for i := 0; i < n; i++ {
		step := baseStep
		if freqBuf != nil {
			step = float64(freqBuf[i]) * transpose / float64(in.sampleRate)
		}
		p := s.phase
		var v float64
		switch wave {
		case octamm.Sine:
			v = math.Sin(2 * math.Pi * p)
		case octamm.Triangle:
			if p < 0.5 {
				v = 4*p - 1
			} else {
				v = 3 - 4*p
			}
		case octamm.Saw:
			v = 2*p - 1
		case octamm.Square:
			if p < 0.5 {
				v = 1
			} else {
				v = -1
			}
		case octamm.Pulse:
			if p < pw {
				v = 1
			} else {
				v = -1
			}
		}
		buf[i] = float32(v) * gain
		s.phase += step
		s.phase -= math.Floor(s.phase)
	}
}

func (in *Instance) renderNoise(node, n int) {
	s := &in.state[node]
	buf := in.bufs[node][:n]
	gain := float32(in.template.Param(node, "gain"))
	x := s.rng
	for i := 0; i < n; i++ {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		buf[i] = gain * float32(int32(uint32(x>>32))) / float32(math.MaxInt32)
	}
	s.rng = x
}

func (in *Instance) renderEnvelope(node, n int, c Controls) {
	t := in.template
	s := &in.state[node]
	buf := in.bufs[node][:n]
	rate := float64(in.sampleRate)
	attack := t.Param(node, "attack") * rate
	decay := t.Param(node, "decay") * rate
	sustain := t.Param(node, "sustain")
	release := t.Param(node, "release") * rate
	if !c.Gate && s.stage < envRelease {
		s.stage = envRelease
		if release < 1 {
			s.releaseStep = s.level
		} else {
			s.releaseStep = s.level / release
		}
	}
	for i := 0; i < n; i++ {
		switch s.stage {
		case envAttack:
			if attack < 1 {
				s.level = 1
			} else {
				s.level += 1 / attack
			}
			if s.level >= 1 {
				s.level = 1
				s.stage = envDecay
			}
		case envDecay:
			if decay < 1 {
				s.level = sustain
			} else {
				s.level -= (1 - sustain) / decay
			}
			if s.level <= sustain {
				s.level = sustain
				s.stage = envSustain
			}
		case envRelease:
			s.level -= s.releaseStep
			if s.level <= 0 {
				s.level = 0
				s.stage = envIdle
			}
		}
		buf[i] = float32(s.level)
	}
}

func (in *Instance) renderSamplePlayer(node, n int, c Controls) {
	t := in.template
	s := &in.state[node]
	buf := in.bufs[node][:n]
	smp, region, ok := t.SampleFor(node)
	if !ok || s.done {
		zero(buf)
		return
	}
	pitchBuf := in.inputBuf(node, "pitch")
	gain := float32(t.Param(node, "gain"))
	loop := t.Param(node, "loop") != 0
	rateRatio := float64(smp.Rate) / float64(in.sampleRate)
	baseRatio := c.Freq / smp.BaseFrequency * rateRatio
	start, end := float64(region.Start), float64(region.End)
	for i := 0; i < n; i++ {
		ratio := baseRatio
		if pitchBuf != nil {
			ratio = float64(pitchBuf[i]) / smp.BaseFrequency * rateRatio
		}
		if s.pos >= end {
			if !loop || end <= start {
				s.done = true
				zero(buf[i:])
				return
			}
			for s.pos >= end {
				s.pos -= end - start
			}
		}
		ipos := int(s.pos)
		frac := float32(s.pos - float64(ipos))
		f0 := smp.Data[ipos]
		f1 := f0
		if ipos+1 < region.End {
			f1 = smp.Data[ipos+1]
		} else if loop {
			f1 = smp.Data[region.Start]
		}
		v0 := (f0[0] + f0[1]) / 2
		v1 := (f1[0] + f1[1]) / 2
		buf[i] = gain * (v0 + (v1-v0)*frac)
		s.pos += ratio
	}
}

func (in *Instance) renderFilter(node, n int) {
	t := in.template
	s := &in.state[node]
	buf := in.bufs[node][:n]
	input := in.inputBuf(node, "in")
	cutoffBuf := in.inputBuf(node, "cutoff")
	cutoff := t.Param(node, "cutoff")
	q := float32(1 / t.Param(node, "resonance"))
	mode := int(t.Param(node, "mode"))
	baseF := svfCoeff(cutoff, in.sampleRate)
	for i := 0; i < n; i++ {
		f := baseF
		if cutoffBuf != nil {
			f = svfCoeff(float64(cutoffBuf[i]), in.sampleRate)
		}
		s.low += f * s.band
		high := input[i] - s.low - q*s.band
		s.band += f * high
		switch mode {
		case octamm.Lowpass:
			buf[i] = s.low
		case octamm.Bandpass:
			buf[i] = s.band
		case octamm.Highpass:
			buf[i] = high
		}
	}
}

func svfCoeff(cutoff float64, sampleRate int) float32 {
	f := 2 * math.Sin(math.Pi*cutoff/float64(sampleRate))
	if f > 1.5 {
		f = 1.5
	}
	if f < 0 {
		f = 0
	}
	return float32(f)
}

func (in *Instance) renderGain(node, n int) {
	buf := in.bufs[node][:n]
	input := in.inputBuf(node, "in")
	gain := float32(in.template.Param(node, "gain"))
	mod := in.inputBuf(node, "mod")
	if mod == nil {
		mulNumber(buf, input[:n], gain)
		return
	}
	for i := 0; i < n; i++ {
		buf[i] = input[i] * gain * mod[i]
	}
}

func (in *Instance) renderMultiply(node, n int) {
	buf := in.bufs[node][:n]
	a := in.inputBuf(node, "a")
	b := in.inputBuf(node, "b")
	mul(buf, a[:n], b[:n])
}

func (in *Instance) renderMix(node, n int) {
	t := in.template
	buf := in.bufs[node][:n]
	zero(buf)
	for port := 1; port <= 8; port++ {
		input := in.inputBuf(node, mixPortNames[port-1])
		if input == nil {
			continue
		}
		gain := float32(t.Param(node, mixGainNames[port-1]))
		addScaled(buf, input[:n], gain)
	}
}

var mixPortNames = [8]string{"in1", "in2", "in3", "in4", "in5", "in6", "in7", "in8"}
var mixGainNames = [8]string{"gain1", "gain2", "gain3", "gain4", "gain5", "gain6", "gain7", "gain8"}

// renderDelayInline evaluates a delay whose input is not part of a feedback
// loop: the input is already computed this segment, so the output mixes the
// live dry signal with the line and the line is fed in the same pass.
func (in *Instance) renderDelayInline(node, n int) {
	t := in.template
	s := &in.state[node]
	buf := in.bufs[node][:n]
	input := in.inputBuf(node, "in")
	mix := float32(t.Param(node, "mix"))
	feedback := float32(t.Param(node, "feedback"))
	L := len(s.line)
	for i := 0; i < n; i++ {
		w := s.line[(s.lp+i)%L]
		buf[i] = (1-mix)*input[i] + mix*w
		s.line[(s.lp+i)%L] = input[i] + feedback*w
	}
	s.lp = (s.lp + n) % L
}

// renderDelayRead produces the output of a feedback-loop delay from state
// alone: the wet signal from the delay line and the dry input one segment
// late. The looped-back input does not exist yet when this runs.
func (in *Instance) renderDelayRead(node, n int) {
	t := in.template
	s := &in.state[node]
	buf := in.bufs[node][:n]
	mix := float32(t.Param(node, "mix"))
	L := len(s.line)
	for i := 0; i < n; i++ {
		w := s.line[(s.lp+i)%L]
		s.wet[i] = w
		var dry float32
		if s.pn > 0 {
			dry = s.prev[s.ph]
			s.ph = (s.ph + 1) % len(s.prev)
			s.pn--
		}
		buf[i] = (1-mix)*dry + mix*w
	}
}

// renderDelayWrite consumes the input computed this segment, feeding the
// delay line and the late dry buffer.
func (in *Instance) renderDelayWrite(node, n int) {
	t := in.template
	s := &in.state[node]
	input := in.inputBuf(node, "in")
	feedback := float32(t.Param(node, "feedback"))
	L := len(s.line)
	for i := 0; i < n; i++ {
		s.line[(s.lp+i)%L] = input[i] + feedback*s.wet[i]
		if s.pn < len(s.prev) {
			s.prev[(s.ph+s.pn)%len(s.prev)] = input[i]
			s.pn++
		}
	}
	s.lp = (s.lp + n) % L
}

func (in *Instance) inputBuf(node int, port string) []float32 {
	src, ok := in.template.Input(node, port)
	if !ok {
		return nil
	}
	return in.bufs[src]
}

func fill(buf []float32, v float32) {
	for i := range buf {
		buf[i] = v
	}
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
