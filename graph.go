package octamm

import (
	"fmt"
	"sort"
	"strings"
)

type (
	// GraphSpec is the serializable definition of a synthesizer or effect
	// chain: a list of named nodes and the connections between them. A
	// GraphSpec is what the script host hands to the engine; it is validated
	// and frozen into a GraphTemplate by Build before any audio is rendered.
	GraphSpec struct {
		Nodes       []NodeSpec
		Connections []Connection `yaml:",omitempty"`
	}

	// NodeSpec is one processing node in a GraphSpec. Kind is always in
	// lowercase and must be one of the keys of NodeTypes; anything else is
	// rejected at build time, never dispatched dynamically during rendering.
	NodeSpec struct {
		// Kind is the type of the node, e.g. "oscillator", "filter" or "out".
		Kind string

		// Name identifies the node within the graph, used as the endpoint
		// name in Connections. Must be unique within the graph.
		Name string

		// Parameters maps parameter names to values. Missing parameters get
		// the defaults from the node type schema; unknown names and values
		// outside the schema range are build errors.
		Parameters map[string]float64 `yaml:",flow,omitempty"`

		// Sample references stored sample data for sampleplayer nodes, either
		// "samplename" or "samplename/slicename". Ignored for other kinds.
		Sample string `yaml:",omitempty"`

		// Control names the per-voice control a control node outputs. One of
		// "freq", "amp" or "gate".
		Control string `yaml:",omitempty"`
	}

	// Connection routes the output of node From into the input port Port of
	// node To. Every node has at most one output, so only the input end needs
	// a port name.
	Connection struct {
		From string
		To   string
		Port string
	}

	// PortType tells whether a port carries audio or control signals. Control
	// outputs may feed audio inputs (the signal is just used at audio rate),
	// but audio may never feed a control input.
	PortType int

	// PortSpec documents one input port of a node type.
	PortSpec struct {
		Name     string
		Type     PortType
		Required bool
	}

	// ParamSpec documents one parameter of a node type, with its valid range
	// and the value used when the NodeSpec leaves it unset.
	ParamSpec struct {
		Name    string
		Min     float64
		Max     float64
		Default float64
	}

	// NodeType documents one available node kind: its input ports, output
	// signal type and parameters. OutputType is meaningless when HasOutput is
	// false ("out" is the only sink kind).
	NodeType struct {
		Inputs     []PortSpec
		Params     []ParamSpec
		HasOutput  bool
		OutputType PortType

		// ControlVariant kinds accept a "control" parameter; when it is set
		// to 1, all audio ports of the node become control ports, so the same
		// arithmetic kinds work in both signal domains.
		ControlVariant bool

		// BreaksCycle nodes are allowed to sit in a cycle: the looped-back
		// input is then read one block late, which is what makes bounded
		// feedback loops legal. Outside a cycle the node consumes its input
		// in evaluation order like any other node.
		BreaksCycle bool

		// PipeInput is the input port that the >> operator of graph
		// expressions connects to.
		PipeInput string
	}
)

const (
	AudioPort PortType = iota
	ControlPort
)

func (p PortType) String() string {
	if p == ControlPort {
		return "control"
	}
	return "audio"
}

// Waveform constants for the "wave" parameter of oscillator nodes.
const (
	Sine = iota
	Triangle
	Saw
	Square
	Pulse
)

// Filter mode constants for the "mode" parameter of filter nodes.
const (
	Lowpass = iota
	Bandpass
	Highpass
)

// Voice controls that control nodes can output.
const (
	ControlFreq = "freq"
	ControlAmp  = "amp"
	ControlGate = "gate"
)

// NodeTypes documents all the available node kinds, their ports and
// parameters. This is the closed set of variants the engine knows how to
// evaluate; Build rejects anything not listed here.
var NodeTypes = map[string]NodeType{
	"constant": {
		HasOutput: true, OutputType: ControlPort,
		Params: []ParamSpec{{Name: "value", Min: -1e6, Max: 1e6, Default: 0}},
	},
	"control": {
		HasOutput: true, OutputType: ControlPort,
	},
	"oscillator": {
		HasOutput: true, OutputType: AudioPort,
		Inputs: []PortSpec{{Name: "freq", Type: ControlPort}},
		Params: []ParamSpec{
			{Name: "wave", Min: Sine, Max: Pulse, Default: Sine},
			{Name: "transpose", Min: -48, Max: 48, Default: 0},
			{Name: "phase", Min: 0, Max: 1, Default: 0},
			{Name: "pulsewidth", Min: 0.01, Max: 0.99, Default: 0.5},
			{Name: "gain", Min: 0, Max: 1, Default: 1}},
	},
	"noise": {
		HasOutput: true, OutputType: AudioPort,
		Params: []ParamSpec{{Name: "gain", Min: 0, Max: 1, Default: 1}},
	},
	"envelope": {
		HasOutput: true, OutputType: ControlPort,
		Params: []ParamSpec{
			{Name: "attack", Min: 0, Max: 60, Default: 0.005},
			{Name: "decay", Min: 0, Max: 60, Default: 0.05},
			{Name: "sustain", Min: 0, Max: 1, Default: 0.7},
			{Name: "release", Min: 0, Max: 60, Default: 0.05}},
	},
	"sampleplayer": {
		HasOutput: true, OutputType: AudioPort,
		Inputs: []PortSpec{{Name: "pitch", Type: ControlPort}},
		Params: []ParamSpec{
			{Name: "gain", Min: 0, Max: 1, Default: 1},
			{Name: "loop", Min: 0, Max: 1, Default: 0}},
	},
	"filter": {
		HasOutput: true, OutputType: AudioPort,
		Inputs: []PortSpec{
			{Name: "in", Type: AudioPort, Required: true},
			{Name: "cutoff", Type: ControlPort}},
		Params: []ParamSpec{
			{Name: "cutoff", Min: 1, Max: 20000, Default: 1000},
			{Name: "resonance", Min: 0.1, Max: 10, Default: 0.7},
			{Name: "mode", Min: Lowpass, Max: Highpass, Default: Lowpass}},
		PipeInput: "in",
	},
	"gain": {
		HasOutput: true, OutputType: AudioPort, ControlVariant: true,
		Inputs: []PortSpec{
			{Name: "in", Type: AudioPort, Required: true},
			{Name: "mod", Type: ControlPort}},
		Params:    []ParamSpec{{Name: "gain", Min: 0, Max: 16, Default: 1}},
		PipeInput: "in",
	},
	"multiply": {
		HasOutput: true, OutputType: AudioPort, ControlVariant: true,
		Inputs: []PortSpec{
			{Name: "a", Type: AudioPort, Required: true},
			{Name: "b", Type: AudioPort, Required: true}},
	},
	"mix": {
		HasOutput: true, OutputType: AudioPort, ControlVariant: true,
		Inputs: []PortSpec{
			{Name: "in1", Type: AudioPort},
			{Name: "in2", Type: AudioPort},
			{Name: "in3", Type: AudioPort},
			{Name: "in4", Type: AudioPort},
			{Name: "in5", Type: AudioPort},
			{Name: "in6", Type: AudioPort},
			{Name: "in7", Type: AudioPort},
			{Name: "in8", Type: AudioPort}},
		Params: []ParamSpec{
			{Name: "gain1", Min: -16, Max: 16, Default: 1},
			{Name: "gain2", Min: -16, Max: 16, Default: 1},
			{Name: "gain3", Min: -16, Max: 16, Default: 1},
			{Name: "gain4", Min: -16, Max: 16, Default: 1},
			{Name: "gain5", Min: -16, Max: 16, Default: 1},
			{Name: "gain6", Min: -16, Max: 16, Default: 1},
			{Name: "gain7", Min: -16, Max: 16, Default: 1},
			{Name: "gain8", Min: -16, Max: 16, Default: 1}},
	},
	"delay": {
		HasOutput: true, OutputType: AudioPort, BreaksCycle: true,
		Inputs: []PortSpec{{Name: "in", Type: AudioPort, Required: true}},
		Params: []ParamSpec{
			{Name: "time", Min: 0.0001, Max: MaxDelaySeconds, Default: 0.25},
			{Name: "feedback", Min: 0, Max: 0.99, Default: 0.4},
			{Name: "mix", Min: 0, Max: 1, Default: 0.5}},
		PipeInput: "in",
	},
	"out": {
		Inputs: []PortSpec{{Name: "in", Type: AudioPort, Required: true}},
		Params: []ParamSpec{
			{Name: "gain", Min: 0, Max: 2, Default: 1},
			{Name: "pan", Min: 0, Max: 1, Default: 0.5}},
		PipeInput: "in",
	},
}

// MaxDelaySeconds bounds the delay line length, so that delay node state stays
// a fixed allocation per voice.
const MaxDelaySeconds = 5.0

// NodeKinds is a list of all the node kind names, sorted alphabetically.
var NodeKinds []string

func init() {
	NodeKinds = make([]string, 0, len(NodeTypes))
	for k := range NodeTypes {
		NodeKinds = append(NodeKinds, k)
	}
	sort.Strings(NodeKinds)
}

// IsControl reports whether the node runs as the control-rate variant of its
// kind.
func (n *NodeSpec) IsControl() bool {
	nt, ok := NodeTypes[n.Kind]
	return ok && nt.ControlVariant && n.Parameters["control"] == 1
}

// portType resolves the effective type of an input port, taking the control
// variant into account.
func (n *NodeSpec) portType(p PortSpec) PortType {
	if n.IsControl() && p.Type == AudioPort {
		return ControlPort
	}
	return p.Type
}

// outputType resolves the effective output type of the node.
func (n *NodeSpec) outputType(nt NodeType) PortType {
	if n.IsControl() && nt.OutputType == AudioPort {
		return ControlPort
	}
	return nt.OutputType
}

// Copy makes a deep copy of a NodeSpec.
func (n *NodeSpec) Copy() NodeSpec {
	params := make(map[string]float64, len(n.Parameters))
	for k, v := range n.Parameters {
		params[k] = v
	}
	return NodeSpec{Kind: n.Kind, Name: n.Name, Parameters: params, Sample: n.Sample, Control: n.Control}
}

// Copy makes a deep copy of a GraphSpec.
func (g *GraphSpec) Copy() GraphSpec {
	nodes := make([]NodeSpec, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = n.Copy()
	}
	connections := make([]Connection, len(g.Connections))
	copy(connections, g.Connections)
	return GraphSpec{Nodes: nodes, Connections: connections}
}

type (
	// CycleError is returned by Build when the connection graph contains a
	// cycle that does not pass through a delay node.
	CycleError struct {
		Nodes []string // names of the nodes participating in the cycle
	}

	// TypeError is returned by Build when a connection or port reference is
	// invalid: unknown port, doubly connected input, or incompatible signal
	// types.
	TypeError struct {
		Connection Connection
		Reason     string
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph contains a cycle without a delay node: %s", strings.Join(e.Nodes, ", "))
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("connection %s -> %s.%s: %s", e.Connection.From, e.Connection.To, e.Connection.Port, e.Reason)
}

type (
	// GraphTemplate is an immutable, validated graph definition, shared
	// between all the voices playing it. The topological evaluation order is
	// computed once here, so that instances only ever walk a precomputed
	// order. Per-voice mutable state lives in the engine package instances.
	GraphTemplate struct {
		nodes    []NodeSpec
		order    []int
		feedback []bool           // per node: input arrives through a dropped cycle edge
		inputs   []map[string]int // per node: input port name -> source node index
		params   []map[string]float64
		outNode  int
		outInput int // index of the node feeding the out node
		samples  []sampleBinding
	}

	sampleBinding struct {
		sample *Sample
		slice  Slice
		bound  bool
	}
)

// Build validates the spec and freezes it into a GraphTemplate. It checks
// that all node kinds, parameters, ports and connections are valid, that
// every required input has exactly one connection of a compatible type, and
// that the graph is acyclic except through delay nodes. The returned template
// caches the topological evaluation order.
func (g *GraphSpec) Build() (*GraphTemplate, error) {
	byName := make(map[string]int, len(g.Nodes))
	outNode := -1
	for i, n := range g.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node %d has no name", i)
		}
		if _, ok := byName[n.Name]; ok {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}
		byName[n.Name] = i
		nt, ok := NodeTypes[n.Kind]
		if !ok {
			return nil, fmt.Errorf("node %q has unknown kind %q", n.Name, n.Kind)
		}
		if err := n.validateParams(nt); err != nil {
			return nil, err
		}
		if n.Kind == "control" {
			switch n.Control {
			case ControlFreq, ControlAmp, ControlGate:
			default:
				return nil, fmt.Errorf("node %q: unknown control %q", n.Name, n.Control)
			}
		}
		if n.Kind == "sampleplayer" && n.Sample == "" {
			return nil, fmt.Errorf("node %q: sampleplayer requires a sample reference", n.Name)
		}
		if n.Kind == "out" {
			if outNode >= 0 {
				return nil, fmt.Errorf("graph has more than one out node (%q and %q)", g.Nodes[outNode].Name, n.Name)
			}
			outNode = i
		}
	}
	if outNode < 0 {
		return nil, fmt.Errorf("graph has no out node")
	}
	inputs := make([]map[string]int, len(g.Nodes))
	for i := range inputs {
		inputs[i] = make(map[string]int)
	}
	for _, c := range g.Connections {
		from, ok := byName[c.From]
		if !ok {
			return nil, &TypeError{Connection: c, Reason: fmt.Sprintf("unknown source node %q", c.From)}
		}
		to, ok := byName[c.To]
		if !ok {
			return nil, &TypeError{Connection: c, Reason: fmt.Sprintf("unknown target node %q", c.To)}
		}
		fromType := NodeTypes[g.Nodes[from].Kind]
		if !fromType.HasOutput {
			return nil, &TypeError{Connection: c, Reason: fmt.Sprintf("node %q has no output", c.From)}
		}
		port, ok := findPort(&g.Nodes[to], c.Port)
		if !ok {
			return nil, &TypeError{Connection: c, Reason: fmt.Sprintf("node kind %q has no input port %q", g.Nodes[to].Kind, c.Port)}
		}
		if _, ok := inputs[to][c.Port]; ok {
			return nil, &TypeError{Connection: c, Reason: "input port already connected"}
		}
		outType := g.Nodes[from].outputType(fromType)
		inType := g.Nodes[to].portType(port)
		// control feeding an audio input is fine; audio into control is not
		if outType == AudioPort && inType == ControlPort {
			return nil, &TypeError{Connection: c, Reason: "audio output cannot feed a control input"}
		}
		inputs[to][c.Port] = from
	}
	for i, n := range g.Nodes {
		nt := NodeTypes[n.Kind]
		connected := 0
		for _, p := range nt.Inputs {
			if _, ok := inputs[i][p.Name]; ok {
				connected++
			} else if p.Required {
				return nil, fmt.Errorf("node %q: required input %q not connected", n.Name, p.Name)
			}
		}
		if n.Kind == "mix" && connected == 0 {
			return nil, fmt.Errorf("node %q: mix needs at least one input", n.Name)
		}
	}
	order, feedback, err := topoSort(g, inputs)
	if err != nil {
		return nil, err
	}
	t := &GraphTemplate{
		nodes:    make([]NodeSpec, len(g.Nodes)),
		order:    order,
		feedback: feedback,
		inputs:   inputs,
		params:   make([]map[string]float64, len(g.Nodes)),
		outNode:  outNode,
		samples:  make([]sampleBinding, len(g.Nodes)),
	}
	for i, n := range g.Nodes {
		t.nodes[i] = n.Copy()
		t.params[i] = resolveParams(&n, NodeTypes[n.Kind])
	}
	t.outInput = inputs[outNode]["in"]
	return t, nil
}

func (n *NodeSpec) validateParams(nt NodeType) error {
	for name, value := range n.Parameters {
		if nt.ControlVariant && name == "control" {
			if value != 0 && value != 1 {
				return fmt.Errorf("node %q: parameter control must be 0 or 1", n.Name)
			}
			continue
		}
		spec, ok := findParam(nt, name)
		if !ok {
			return fmt.Errorf("node %q: kind %q has no parameter %q", n.Name, n.Kind, name)
		}
		if value < spec.Min || value > spec.Max {
			return fmt.Errorf("node %q: parameter %q value %v outside range %v .. %v", n.Name, name, value, spec.Min, spec.Max)
		}
	}
	return nil
}

func findPort(n *NodeSpec, name string) (PortSpec, bool) {
	for _, p := range NodeTypes[n.Kind].Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortSpec{}, false
}

func findParam(nt NodeType, name string) (ParamSpec, bool) {
	for _, p := range nt.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

func resolveParams(n *NodeSpec, nt NodeType) map[string]float64 {
	ret := make(map[string]float64, len(nt.Params))
	for _, p := range nt.Params {
		if v, ok := n.Parameters[p.Name]; ok {
			ret[p.Name] = v
		} else {
			ret[p.Name] = p.Default
		}
	}
	return ret
}

// topoSort runs Kahn's algorithm over the connection graph. Incoming edges of
// delay nodes are dropped only when they close a cycle; the delay then
// consumes that input one block late. Straight-line edges into a delay
// constrain the evaluation order like any other edge, so an acyclic chain
// through a delay evaluates strictly in order. Any nodes left over after the
// sort participate in an illegal cycle. The returned feedback slice marks the
// nodes whose input arrives through a dropped cycle edge.
func topoSort(g *GraphSpec, inputs []map[string]int) ([]int, []bool, error) {
	full := make([][]int, len(g.Nodes))
	for to, ports := range inputs {
		for _, from := range ports {
			full[from] = append(full[from], to)
		}
	}
	feedback := make([]bool, len(g.Nodes))
	indegree := make([]int, len(g.Nodes))
	successors := make([][]int, len(g.Nodes))
	for to, ports := range inputs {
		for _, from := range ports {
			// the edge closes a cycle iff "from" is reachable from "to"
			if NodeTypes[g.Nodes[to].Kind].BreaksCycle && reachable(full, to, from) {
				feedback[to] = true
				continue
			}
			indegree[to]++
			successors[from] = append(successors[from], to)
		}
	}
	queue := make([]int, 0, len(g.Nodes))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	// the queue is kept sorted so that the order is deterministic regardless
	// of the connection listing order
	sort.Ints(queue)
	order := make([]int, 0, len(g.Nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		ready := []int(nil)
		for _, succ := range successors[n] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}
	if len(order) < len(g.Nodes) {
		cycle := []string(nil)
		for i, d := range indegree {
			if d > 0 {
				cycle = append(cycle, g.Nodes[i].Name)
			}
		}
		return nil, nil, &CycleError{Nodes: cycle}
	}
	return order, feedback, nil
}

// reachable reports whether node to can be reached from node from by
// following the connection graph.
func reachable(successors [][]int, from, to int) bool {
	seen := make([]bool, len(successors))
	stack := []int{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, successors[n]...)
	}
	return false
}

// NumNodes returns the number of nodes in the template.
func (t *GraphTemplate) NumNodes() int { return len(t.nodes) }

// Node returns a copy of the node spec at the given index.
func (t *GraphTemplate) Node(i int) NodeSpec { return t.nodes[i].Copy() }

// Kind returns the kind of the node at the given index.
func (t *GraphTemplate) Kind(i int) string { return t.nodes[i].Kind }

// Order returns the cached topological evaluation order. The returned slice
// is shared and must not be modified.
func (t *GraphTemplate) Order() []int { return t.order }

// InFeedbackLoop reports whether the node's input arrives through a feedback
// cycle, in which case the node consumes its input one block late.
func (t *GraphTemplate) InFeedbackLoop(node int) bool { return t.feedback[node] }

// Input returns the node index feeding the given input port, if connected.
func (t *GraphTemplate) Input(node int, port string) (src int, ok bool) {
	src, ok = t.inputs[node][port]
	return src, ok
}

// Param returns the resolved value of a parameter, with schema defaults
// applied for parameters the spec left unset.
func (t *GraphTemplate) Param(node int, name string) float64 {
	return t.params[node][name]
}

// ControlName returns the voice control name of a control node.
func (t *GraphTemplate) ControlName(node int) string { return t.nodes[node].Control }

// OutNode returns the index of the single out node.
func (t *GraphTemplate) OutNode() int { return t.outNode }

// BindSamples resolves the sample references of all sampleplayer nodes using
// the given resolver, typically (*sample.Store).Resolve. It must be called
// before the template is instantiated by a voice, so that the render thread
// never performs sample lookups itself.
func (t *GraphTemplate) BindSamples(resolve func(ref string) (*Sample, Slice, error)) error {
	for i, n := range t.nodes {
		if n.Kind != "sampleplayer" {
			continue
		}
		s, region, err := resolve(n.Sample)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		t.samples[i] = sampleBinding{sample: s, slice: region, bound: true}
	}
	return nil
}

// SampleFor returns the bound sample data of a sampleplayer node.
func (t *GraphTemplate) SampleFor(node int) (s *Sample, region Slice, ok bool) {
	b := t.samples[node]
	return b.sample, b.slice, b.bound
}
