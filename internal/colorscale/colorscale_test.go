package colorscale

import (
	"fmt"
	"math"
	"testing"
)

func TestColorFor_NonFiniteIsNeutral(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := ColorFor(v); got != NeutralHex {
			t.Fatalf("ColorFor(%v) = %q, want neutral", v, got)
		}
	}
	if got := ColorForPtr(nil); got != NeutralHex {
		t.Fatalf("nil rating should be neutral, got %q", got)
	}
}

func TestColorFor_BandAnchors(t *testing.T) {
	cases := map[float64]string{
		-1.0: "#1b5e20",
		0.0:  "#1b5e20",
		1.5:  "#4caf50",
		2.5:  "#8bc34a",
		3.5:  "#ffeb3b",
		4.5:  "#ff9800",
		6.0:  "#d50000",
		99.0: "#d50000",
	}
	for v, want := range cases {
		if got := ColorFor(v); got != want {
			t.Fatalf("ColorFor(%v) = %q, want %q", v, got, want)
		}
	}
}

func TestColorFor_InterpolatesWithinBand(t *testing.T) {
	// Halfway between yellow (3.5) and orange (4.5).
	got := ColorFor(4.0)
	if got == ColorFor(3.5) || got == ColorFor(4.5) {
		t.Fatalf("midpoint should blend, got %q", got)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(got, "#%02x%02x%02x", &r, &g, &b); err != nil {
		t.Fatalf("not a hex color: %q", got)
	}
}

func TestColorFor_Deterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		if ColorFor(2.7) != ColorFor(2.7) {
			t.Fatalf("same input must give same output")
		}
	}
}

// Green dominance (g - r) must never increase as the road gets rougher, so
// the ramp reads strictly "worse" across band boundaries.
func TestColorFor_MonotonicBadness(t *testing.T) {
	prev := math.MaxInt32
	for v := 1.5; v <= 6.0; v += 0.25 {
		var r, g, b uint8
		if _, err := fmt.Sscanf(ColorFor(v), "#%02x%02x%02x", &r, &g, &b); err != nil {
			t.Fatalf("parse failed at %v", v)
		}
		dominance := int(g) - int(r)
		if dominance > prev+1 {
			t.Fatalf("ramp got greener at %v", v)
		}
		prev = dominance
	}
}

func TestRGBA(t *testing.T) {
	r, g, b := RGBA(6.0)
	if r < 0.8 || g > 0.1 || b > 0.1 {
		t.Fatalf("expected strong red, got (%f, %f, %f)", r, g, b)
	}
}
