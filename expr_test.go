package octamm_test

import (
	"strings"
	"testing"

	"github.com/octamm/octamm"
)

func TestParseGraphSimple(t *testing.T) {
	spec, err := octamm.ParseGraph(":freq >> sine * :amp")
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	kinds := map[string]int{}
	for _, n := range spec.Nodes {
		kinds[n.Kind]++
	}
	if kinds["control"] != 2 || kinds["oscillator"] != 1 || kinds["multiply"] != 1 || kinds["out"] != 1 {
		t.Fatalf("unexpected node kinds %v", kinds)
	}
	if _, err := spec.Build(); err != nil {
		t.Fatalf("parsed graph should build, got %v", err)
	}
}

func TestParseGraphBuildable(t *testing.T) {
	exprs := []string{
		"sine",
		"noise * 0.25",
		":freq >> (sine + saw * 0.5) * :amp",
		":freq >> square >> lowpass",
		"(:freq * 2) >> sine + (:freq >> sine)",
		"sine * adsr",
		"noise >> bandpass >> delay",
		"triangle * -0.5 + pulse",
		":freq >> sine * :gate",
	}
	for _, expr := range exprs {
		spec, err := octamm.ParseGraph(expr)
		if err != nil {
			t.Errorf("ParseGraph(%q) failed: %v", expr, err)
			continue
		}
		if _, err := spec.Build(); err != nil {
			t.Errorf("ParseGraph(%q) result does not build: %v", expr, err)
		}
	}
}

func TestParseGraphLeftToRight(t *testing.T) {
	// evaluation is strictly left to right, so the multiply applies to the
	// whole mix on its left
	spec, err := octamm.ParseGraph("sine + noise * 0.5")
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	var mulNode string
	for _, n := range spec.Nodes {
		if n.Kind == "multiply" {
			mulNode = n.Name
		}
	}
	var aSource string
	for _, c := range spec.Connections {
		if c.To == mulNode && c.Port == "a" {
			aSource = c.From
		}
	}
	if !strings.HasPrefix(aSource, "mix") {
		t.Errorf("multiply left operand is %q, expected the mix node", aSource)
	}
}

func TestParseGraphControlDomainArithmetic(t *testing.T) {
	spec, err := octamm.ParseGraph(":freq * 2 >> sine")
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	foundControlMul := false
	for _, n := range spec.Nodes {
		if n.Kind == "multiply" && n.Parameters["control"] == 1 {
			foundControlMul = true
		}
	}
	if !foundControlMul {
		t.Errorf("multiplying two control signals should use the control variant")
	}
	if _, err := spec.Build(); err != nil {
		t.Fatalf("parsed graph should build, got %v", err)
	}
}

func TestParseGraphErrors(t *testing.T) {
	exprs := []string{
		"",
		"sine +",
		"warble",
		":pressure >> sine",
		"sine > lowpass",
		"(sine",
		"sine))",
		"sine >> 440",
		"sine >> (saw + square)",
		":freq",     // control result, nothing audible
		":freq * 2", // still control
		"sine # saw",
	}
	for _, expr := range exprs {
		if _, err := octamm.ParseGraph(expr); err == nil {
			t.Errorf("ParseGraph(%q) should have failed", expr)
		}
	}
}

func TestParseGraphAudioIntoFreqRejected(t *testing.T) {
	// piping an audio signal into an oscillator frequency parses, but the
	// type check rejects it
	spec, err := octamm.ParseGraph("noise >> sine")
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	if _, err := spec.Build(); err == nil {
		t.Fatalf("audio into an oscillator frequency should not build")
	}
}
