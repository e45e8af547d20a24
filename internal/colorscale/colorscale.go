// Package colorscale maps eIRI roughness values onto the fixed color ramp
// shared by map responses and tile rendering. Lower is better: the ramp runs
// green → yellow → orange → red as the road gets rougher.
package colorscale

import (
	"fmt"
	"math"
)

// NeutralHex is returned for roads without a usable rating.
const NeutralHex = "#9e9e9e"

type rgb struct {
	r, g, b uint8
}

// stop anchors the piecewise-linear ramp: values between two stops blend
// their colors; values outside the range clamp to the end colors.
type stop struct {
	value float64
	color rgb
}

var ramp = []stop{
	{0.0, rgb{0x1b, 0x5e, 0x20}}, // dark green
	{1.5, rgb{0x4c, 0xaf, 0x50}}, // bright green
	{2.5, rgb{0x8b, 0xc3, 0x4a}}, // light green
	{3.5, rgb{0xff, 0xeb, 0x3b}}, // yellow
	{4.5, rgb{0xff, 0x98, 0x00}}, // orange
	{6.0, rgb{0xd5, 0x00, 0x00}}, // red
}

// ColorFor is total and deterministic: any non-finite input maps to the
// neutral gray, everything else lands on the ramp.
func ColorFor(eiri float64) string {
	if math.IsNaN(eiri) || math.IsInf(eiri, 0) {
		return NeutralHex
	}
	if eiri <= ramp[0].value {
		return hex(ramp[0].color)
	}
	last := ramp[len(ramp)-1]
	if eiri >= last.value {
		return hex(last.color)
	}
	for i := 1; i < len(ramp); i++ {
		if eiri > ramp[i].value {
			continue
		}
		lo, hi := ramp[i-1], ramp[i]
		t := (eiri - lo.value) / (hi.value - lo.value)
		return hex(lerp(lo.color, hi.color, t))
	}
	return hex(last.color)
}

// ColorForPtr treats an absent rating as unrated.
func ColorForPtr(eiri *float64) string {
	if eiri == nil {
		return NeutralHex
	}
	return ColorFor(*eiri)
}

// RGBA returns the ramp color as float components in [0,1] for raster
// rendering.
func RGBA(eiri float64) (float64, float64, float64) {
	c := parseOrNeutral(ColorFor(eiri))
	return float64(c.r) / 255, float64(c.g) / 255, float64(c.b) / 255
}

func lerp(a, b rgb, t float64) rgb {
	return rgb{
		r: uint8(math.Round(float64(a.r) + (float64(b.r)-float64(a.r))*t)),
		g: uint8(math.Round(float64(a.g) + (float64(b.g)-float64(a.g))*t)),
		b: uint8(math.Round(float64(a.b) + (float64(b.b)-float64(a.b))*t)),
	}
}

func hex(c rgb) string {
	return fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b)
}

func parseOrNeutral(s string) rgb {
	var c rgb
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &c.r, &c.g, &c.b); err != nil {
		return rgb{0x9e, 0x9e, 0x9e}
	}
	return c
}
