package octamm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseGraph parses a graph expression into a GraphSpec. Expressions are a
// compact way for scripts to define signal chains without listing nodes and
// connections explicitly, e.g.
//
//	:freq >> (sine + saw * 0.5) >> lowpass * :amp
//
// Terms are waveform names (sine, triangle, saw, square, pulse), noise,
// filters (lowpass, bandpass, highpass), delay, adsr, numeric constants and
// the voice controls :freq, :amp and :gate. Operators are + (mix), - (mix
// with negated right side), * (multiply) and >> (pipe into the target's main
// input; for oscillators, the frequency input). Evaluation is strictly left
// to right; use parentheses to group. The result feeds an implicit out node.
//
// Unrecognized words are rejected here rather than dispatched at render time.
func ParseGraph(input string) (GraphSpec, error) {
	toks, err := tokenize(input)
	if err != nil {
		return GraphSpec{}, err
	}
	p := &exprParser{toks: toks}
	ref, err := p.parseExpr()
	if err != nil {
		return GraphSpec{}, err
	}
	if p.pos < len(p.toks) {
		return GraphSpec{}, fmt.Errorf("unexpected %q after expression", p.toks[p.pos].text)
	}
	if ref.domain != AudioPort {
		return GraphSpec{}, fmt.Errorf("expression yields a control signal; an audible source is needed")
	}
	out := p.addNode(NodeSpec{Kind: "out", Name: "out"})
	p.connect(ref.name, out, "in")
	return p.spec, nil
}

type (
	tokenKind int

	token struct {
		kind tokenKind
		text string
		pos  int
	}

	exprParser struct {
		toks []token
		pos  int
		spec GraphSpec
		seq  int
	}

	// nodeRef is a built subexpression: the node holding its output, and
	// whether that output is an audio or a control signal.
	nodeRef struct {
		name   string
		domain PortType
	}
)

const (
	tokWord tokenKind = iota
	tokControl
	tokNumber
	tokOp // + - *
	tokPipe
	tokLParen
	tokRParen
)

var waveforms = map[string]float64{
	"sine":     Sine,
	"triangle": Triangle,
	"saw":      Saw,
	"square":   Square,
	"pulse":    Pulse,
}

var filterModes = map[string]float64{
	"lowpass":  Lowpass,
	"bandpass": Bandpass,
	"highpass": Highpass,
}

func tokenize(input string) ([]token, error) {
	toks := []token(nil)
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '+' || c == '-' || c == '*':
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '>':
			if i+1 >= len(input) || input[i+1] != '>' {
				return nil, fmt.Errorf("stray '>' at position %d, did you mean '>>'", i)
			}
			toks = append(toks, token{kind: tokPipe, text: ">>", pos: i})
			i += 2
		case c == ':':
			j := i + 1
			for j < len(input) && isWordChar(rune(input[j])) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("':' without a control name at position %d", i)
			}
			toks = append(toks, token{kind: tokControl, text: strings.ToLower(input[i+1 : j]), pos: i})
			i = j
		case unicode.IsDigit(c) || c == '.':
			j := i
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: input[i:j], pos: i})
			i = j
		case isWordChar(c):
			j := i
			for j < len(input) && isWordChar(rune(input[j])) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(input[i:j]), pos: i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return toks, nil
}

func isWordChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// parseExpr parses a sequence of terms joined by operators, strictly left to
// right.
func (p *exprParser) parseExpr() (nodeRef, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nodeRef{}, err
	}
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind != tokOp && t.kind != tokPipe {
			break
		}
		p.pos++
		if t.kind == tokPipe {
			left, err = p.parsePipeTarget(left)
		} else {
			var right nodeRef
			right, err = p.parseTerm()
			if err != nil {
				return nodeRef{}, err
			}
			left, err = p.combine(t.text, left, right)
		}
		if err != nil {
			return nodeRef{}, err
		}
	}
	return left, nil
}

func (p *exprParser) parseTerm() (nodeRef, error) {
	if p.pos >= len(p.toks) {
		return nodeRef{}, fmt.Errorf("expression ends where a term was expected")
	}
	t := p.toks[p.pos]
	switch t.kind {
	case tokLParen:
		p.pos++
		ref, err := p.parseExpr()
		if err != nil {
			return nodeRef{}, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return nodeRef{}, fmt.Errorf("missing ')' for '(' at position %d", t.pos)
		}
		p.pos++
		return ref, nil
	case tokNumber:
		p.pos++
		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nodeRef{}, fmt.Errorf("bad number %q at position %d", t.text, t.pos)
		}
		return p.constant(value), nil
	case tokOp:
		// allow a leading minus on a numeric constant
		if t.text == "-" && p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokNumber {
			p.pos += 2
			value, err := strconv.ParseFloat(p.toks[p.pos-1].text, 64)
			if err != nil {
				return nodeRef{}, fmt.Errorf("bad number %q at position %d", p.toks[p.pos-1].text, t.pos)
			}
			return p.constant(-value), nil
		}
		return nodeRef{}, fmt.Errorf("operator %q at position %d where a term was expected", t.text, t.pos)
	case tokControl:
		p.pos++
		switch t.text {
		case ControlFreq, ControlAmp, ControlGate:
		default:
			return nodeRef{}, fmt.Errorf("unknown control :%s at position %d", t.text, t.pos)
		}
		name := p.nodeName("ctl")
		p.addNode(NodeSpec{Kind: "control", Name: name, Control: t.text})
		return nodeRef{name: name, domain: ControlPort}, nil
	case tokWord:
		p.pos++
		return p.wordTerm(t)
	}
	return nodeRef{}, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *exprParser) wordTerm(t token) (nodeRef, error) {
	if wave, ok := waveforms[t.text]; ok {
		name := p.nodeName("osc")
		p.addNode(NodeSpec{Kind: "oscillator", Name: name, Parameters: map[string]float64{"wave": wave}})
		return nodeRef{name: name, domain: AudioPort}, nil
	}
	switch t.text {
	case "noise":
		name := p.nodeName("noise")
		p.addNode(NodeSpec{Kind: "noise", Name: name})
		return nodeRef{name: name, domain: AudioPort}, nil
	case "adsr":
		name := p.nodeName("env")
		p.addNode(NodeSpec{Kind: "envelope", Name: name})
		return nodeRef{name: name, domain: ControlPort}, nil
	}
	return nodeRef{}, fmt.Errorf("unknown word %q at position %d", t.text, t.pos)
}

// parsePipeTarget handles `left >> target`: the target term is created with
// left connected to its main input. For oscillators that input is the
// frequency; for filters and delays, the audio input.
func (p *exprParser) parsePipeTarget(left nodeRef) (nodeRef, error) {
	if p.pos >= len(p.toks) {
		return nodeRef{}, fmt.Errorf("expression ends where a pipe target was expected")
	}
	t := p.toks[p.pos]
	if t.kind == tokLParen {
		// piping into a group is only meaningful when the group is a single
		// pipeable term; reparse it as such
		return nodeRef{}, fmt.Errorf("cannot pipe into a parenthesized group at position %d; pipe into a single node", t.pos)
	}
	if t.kind != tokWord {
		return nodeRef{}, fmt.Errorf("cannot pipe into %q at position %d", t.text, t.pos)
	}
	p.pos++
	if wave, ok := waveforms[t.text]; ok {
		name := p.nodeName("osc")
		p.addNode(NodeSpec{Kind: "oscillator", Name: name, Parameters: map[string]float64{"wave": wave}})
		p.connect(left.name, name, "freq")
		return nodeRef{name: name, domain: AudioPort}, nil
	}
	if mode, ok := filterModes[t.text]; ok {
		name := p.nodeName("filter")
		p.addNode(NodeSpec{Kind: "filter", Name: name, Parameters: map[string]float64{"mode": mode}})
		p.connect(left.name, name, "in")
		return nodeRef{name: name, domain: AudioPort}, nil
	}
	if t.text == "delay" || t.text == "echo" {
		name := p.nodeName("delay")
		p.addNode(NodeSpec{Kind: "delay", Name: name})
		p.connect(left.name, name, "in")
		return nodeRef{name: name, domain: AudioPort}, nil
	}
	return nodeRef{}, fmt.Errorf("cannot pipe into %q at position %d", t.text, t.pos)
}

func (p *exprParser) combine(op string, left, right nodeRef) (nodeRef, error) {
	domain := AudioPort
	control := 0.0
	if left.domain == ControlPort && right.domain == ControlPort {
		domain = ControlPort
		control = 1
	}
	switch op {
	case "+", "-":
		name := p.nodeName("mix")
		params := map[string]float64{"control": control}
		if op == "-" {
			params["gain2"] = -1
		}
		p.addNode(NodeSpec{Kind: "mix", Name: name, Parameters: params})
		p.connect(left.name, name, "in1")
		p.connect(right.name, name, "in2")
		return nodeRef{name: name, domain: domain}, nil
	case "*":
		name := p.nodeName("mul")
		p.addNode(NodeSpec{Kind: "multiply", Name: name, Parameters: map[string]float64{"control": control}})
		p.connect(left.name, name, "a")
		p.connect(right.name, name, "b")
		return nodeRef{name: name, domain: domain}, nil
	}
	return nodeRef{}, fmt.Errorf("unknown operator %q", op)
}

func (p *exprParser) constant(value float64) nodeRef {
	name := p.nodeName("const")
	p.addNode(NodeSpec{Kind: "constant", Name: name, Parameters: map[string]float64{"value": value}})
	return nodeRef{name: name, domain: ControlPort}
}

func (p *exprParser) nodeName(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s%d", prefix, p.seq)
}

func (p *exprParser) addNode(n NodeSpec) string {
	p.spec.Nodes = append(p.spec.Nodes, n)
	return n.Name
}

func (p *exprParser) connect(from, to, port string) {
	p.spec.Connections = append(p.spec.Connections, Connection{From: from, To: to, Port: port})
}
