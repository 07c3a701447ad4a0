package engine_test

import (
	"testing"

	"github.com/octamm/octamm"
	"github.com/octamm/octamm/engine"
)

func renderPool(p *engine.Pool, frames int) octamm.AudioBuffer {
	out := make(octamm.AudioBuffer, frames)
	for pos := 0; pos < frames; pos += blockSize {
		end := pos + blockSize
		if end > frames {
			end = frames
		}
		p.Render(out[pos:end])
	}
	return out
}

func TestPoolTriggerAndRetire(t *testing.T) {
	template := buildExpr(t, "sine")
	pool := engine.NewPool(4, sampleRate, blockSize)
	result := pool.Trigger(octamm.Event{Template: template, Pitch: 440, Velocity: 1, Duration: 100, ID: 1})
	if result.Stolen {
		t.Fatalf("empty pool should not steal")
	}
	if pool.Active() != 1 {
		t.Fatalf("Active = %v, expected 1", pool.Active())
	}
	out := renderPool(pool, blockSize)
	if out[:100].Peak() == 0 {
		t.Errorf("voice rendered silence")
	}
	// a graph without an envelope stops at the end of its duration
	if pool.Active() != 0 {
		t.Errorf("voice should have retired after its duration, Active = %v", pool.Active())
	}
	if out[101:].Peak() != 0 {
		t.Errorf("voice still sounding after its duration")
	}
}

func TestPoolStealsOldest(t *testing.T) {
	template := buildExpr(t, "sine")
	pool := engine.NewPool(2, sampleRate, blockSize)
	pool.Trigger(octamm.Event{Template: template, Pitch: 440, Velocity: 1, Duration: -1, ID: 1})
	renderPool(pool, blockSize)
	pool.Trigger(octamm.Event{Template: template, Pitch: 550, Velocity: 1, Duration: -1, ID: 2})
	result := pool.Trigger(octamm.Event{Template: template, Pitch: 660, Velocity: 1, Duration: -1, ID: 3})
	if !result.Stolen || result.StolenID != 1 {
		t.Fatalf("expected to steal the oldest voice 1, got %+v", result)
	}
	if pool.Active() != 2 {
		t.Errorf("Active = %v, expected 2", pool.Active())
	}
}

func TestPoolPrefersReleasedVictim(t *testing.T) {
	// long release keeps released voices sounding, so they are still in use
	// when the steal happens
	spec, err := octamm.ParseGraph("sine * adsr")
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	for i, n := range spec.Nodes {
		if n.Kind == "envelope" {
			spec.Nodes[i].Parameters = map[string]float64{"release": 2}
		}
	}
	template, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	pool := engine.NewPool(2, sampleRate, blockSize)
	pool.Trigger(octamm.Event{Template: template, Pitch: 440, Velocity: 1, Duration: -1, ID: 1})
	renderPool(pool, blockSize)
	pool.Trigger(octamm.Event{Template: template, Pitch: 550, Velocity: 1, Duration: -1, ID: 2})
	renderPool(pool, blockSize)
	// voice 2 is newer but released, so it should be stolen first
	pool.Release(2)
	renderPool(pool, blockSize)
	if pool.Active() != 2 {
		t.Fatalf("released voice should still be ringing, Active = %v", pool.Active())
	}
	result := pool.Trigger(octamm.Event{Template: template, Pitch: 660, Velocity: 1, Duration: -1, ID: 3})
	if !result.Stolen || result.StolenID != 2 {
		t.Fatalf("expected to steal the released voice 2, got %+v", result)
	}
}

func TestPoolReleaseAllRetiresVoices(t *testing.T) {
	template := buildExpr(t, "sine")
	pool := engine.NewPool(8, sampleRate, blockSize)
	for i := int64(1); i <= 5; i++ {
		pool.Trigger(octamm.Event{Template: template, Pitch: 440, Velocity: 1, Duration: -1, ID: i})
	}
	if pool.Active() != 5 {
		t.Fatalf("Active = %v, expected 5", pool.Active())
	}
	pool.ReleaseAll()
	renderPool(pool, blockSize)
	if pool.Active() != 0 {
		t.Errorf("all voices should have retired, Active = %v", pool.Active())
	}
}

func TestPoolCut(t *testing.T) {
	template := buildExpr(t, "sine")
	pool := engine.NewPool(4, sampleRate, blockSize)
	pool.Trigger(octamm.Event{Template: template, Pitch: 440, Velocity: 1, Duration: -1, ID: 1})
	pool.Cut()
	if pool.Active() != 0 {
		t.Fatalf("Active = %v after Cut", pool.Active())
	}
	out := renderPool(pool, blockSize)
	if out.Peak() != 0 {
		t.Errorf("pool sounding after Cut")
	}
}

func TestPoolDeterministicAcrossRuns(t *testing.T) {
	template := buildExpr(t, ":freq >> sine * adsr")
	run := func() octamm.AudioBuffer {
		pool := engine.NewPool(4, sampleRate, blockSize)
		pool.Trigger(octamm.Event{Template: template, Pitch: 440, Velocity: 1, Duration: 1000, ID: 1})
		pool.Trigger(octamm.Event{Template: template, Pitch: 660, Velocity: 1, Duration: 500, ID: 2})
		return renderPool(pool, 4096)
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("frame %v differs between identical runs", i)
		}
	}
}
