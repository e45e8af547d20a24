// Package mvt encodes Mapbox Vector Tiles (spec 2.1) straight onto the
// protobuf wire format. The tile schema is small and stable, so the encoder
// writes it with protowire instead of dragging generated bindings around.
package mvt

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const DefaultExtent = 4096

// GeomType mirrors the vector tile geometry enum.
type GeomType uint64

const (
	GeomUnknown    GeomType = 0
	GeomPoint      GeomType = 1
	GeomLineString GeomType = 2
	GeomPolygon    GeomType = 3
)

const (
	cmdMoveTo uint32 = 1
	cmdLineTo uint32 = 2
)

// Pt is a vertex in tile-local integer coordinates (0..extent).
type Pt struct {
	X int32
	Y int32
}

// Layer accumulates features plus the deduplicated key/value tables the
// format shares across a layer.
type Layer struct {
	name     string
	extent   uint32
	features []*Feature
	keys     []string
	keyIdx   map[string]uint32
	values   []tagValue
	valIdx   map[tagValue]uint32
}

type tagValue struct {
	kind byte // 's' string, 'd' double, 'i' int, 'b' bool
	s    string
	d    float64
	i    int64
	b    bool
}

func NewLayer(name string, extent uint32) *Layer {
	if extent == 0 {
		extent = DefaultExtent
	}
	return &Layer{
		name:   name,
		extent: extent,
		keyIdx: make(map[string]uint32),
		valIdx: make(map[tagValue]uint32),
	}
}

func (l *Layer) Empty() bool {
	return len(l.features) == 0
}

// Feature is built through the layer so tag tables stay shared.
type Feature struct {
	layer    *Layer
	id       uint64
	geomType GeomType
	tags     []uint32
	geometry []uint32
}

func (l *Layer) AddFeature(id uint64, geomType GeomType) *Feature {
	f := &Feature{layer: l, id: id, geomType: geomType}
	l.features = append(l.features, f)
	return f
}

func (f *Feature) TagString(key, val string) *Feature {
	return f.tag(key, tagValue{kind: 's', s: val})
}

func (f *Feature) TagDouble(key string, val float64) *Feature {
	return f.tag(key, tagValue{kind: 'd', d: val})
}

func (f *Feature) TagInt(key string, val int64) *Feature {
	return f.tag(key, tagValue{kind: 'i', i: val})
}

func (f *Feature) TagBool(key string, val bool) *Feature {
	return f.tag(key, tagValue{kind: 'b', b: val})
}

func (f *Feature) tag(key string, val tagValue) *Feature {
	l := f.layer
	ki, ok := l.keyIdx[key]
	if !ok {
		ki = uint32(len(l.keys))
		l.keys = append(l.keys, key)
		l.keyIdx[key] = ki
	}
	vi, ok := l.valIdx[val]
	if !ok {
		vi = uint32(len(l.values))
		l.values = append(l.values, val)
		l.valIdx[val] = vi
	}
	f.tags = append(f.tags, ki, vi)
	return f
}

// SetLines encodes one or more polylines as MoveTo/LineTo command sequences
// with zigzag-delta coordinates. Parts with fewer than two vertices are
// dropped; the cursor carries across parts, as MVT 2.1 requires.
func (f *Feature) SetLines(lines [][]Pt) *Feature {
	var geom []uint32
	var cx, cy int32
	for _, line := range lines {
		if len(line) < 2 {
			continue
		}
		geom = append(geom, command(cmdMoveTo, 1), zigzag(line[0].X-cx), zigzag(line[0].Y-cy))
		cx, cy = line[0].X, line[0].Y
		geom = append(geom, command(cmdLineTo, uint32(len(line)-1)))
		for _, p := range line[1:] {
			geom = append(geom, zigzag(p.X-cx), zigzag(p.Y-cy))
			cx, cy = p.X, p.Y
		}
	}
	f.geometry = geom
	return f
}

func command(id, count uint32) uint32 {
	return (id & 0x7) | (count << 3)
}

func zigzag(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// EncodeTile renders the layers as a Tile message. Layers without features
// are skipped; a tile with no remaining layers encodes to nil.
func EncodeTile(layers ...*Layer) []byte {
	var out []byte
	for _, l := range layers {
		if l == nil || l.Empty() {
			continue
		}
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, l.encode())
	}
	return out
}

func (l *Layer) encode() []byte {
	var out []byte
	out = protowire.AppendTag(out, 15, protowire.VarintType)
	out = protowire.AppendVarint(out, 2) // version
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendString(out, l.name)
	for _, f := range l.features {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, f.encode())
	}
	for _, k := range l.keys {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendString(out, k)
	}
	for _, v := range l.values {
		out = protowire.AppendTag(out, 4, protowire.BytesType)
		out = protowire.AppendBytes(out, v.encode())
	}
	out = protowire.AppendTag(out, 5, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(l.extent))
	return out
}

func (f *Feature) encode() []byte {
	var out []byte
	if f.id != 0 {
		out = protowire.AppendTag(out, 1, protowire.VarintType)
		out = protowire.AppendVarint(out, f.id)
	}
	if len(f.tags) > 0 {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, packedVarints(f.tags))
	}
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(f.geomType))
	if len(f.geometry) > 0 {
		out = protowire.AppendTag(out, 4, protowire.BytesType)
		out = protowire.AppendBytes(out, packedVarints(f.geometry))
	}
	return out
}

func (v tagValue) encode() []byte {
	var out []byte
	switch v.kind {
	case 's':
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendString(out, v.s)
	case 'd':
		out = protowire.AppendTag(out, 3, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(v.d))
	case 'i':
		out = protowire.AppendTag(out, 4, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(v.i))
	case 'b':
		out = protowire.AppendTag(out, 7, protowire.VarintType)
		var bit uint64
		if v.b {
			bit = 1
		}
		out = protowire.AppendVarint(out, bit)
	}
	return out
}

func packedVarints(vals []uint32) []byte {
	var out []byte
	for _, v := range vals {
		out = protowire.AppendVarint(out, uint64(v))
	}
	return out
}
