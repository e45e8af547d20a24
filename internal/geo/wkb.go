package geo

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeError marks a geometry blob the decoder could not make sense of.
// Callers skip the offending feature and keep going.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("geometry decode: %s", e.Reason)
}

func decodeErrf(format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// MultiLinePolicy controls how a MultiLineString collapses to line geometries.
type MultiLinePolicy string

const (
	// MultiLineFirst keeps only the first constituent line. This matches the
	// historical behavior of the rating pipeline; datasets where later parts
	// carry real geometry should use MultiLineLongest or MultiLineAll.
	MultiLineFirst   MultiLinePolicy = "first"
	MultiLineLongest MultiLinePolicy = "longest"
	MultiLineAll     MultiLinePolicy = "all"
)

const (
	wkbLineString      = 2
	wkbMultiLineString = 5

	ewkbZFlag    = 0x80000000
	ewkbMFlag    = 0x40000000
	ewkbSRIDFlag = 0x20000000
)

// DecodeWKB decodes a WKB or EWKB blob into a single line geometry, applying
// the given MultiLineString policy (MultiLineAll behaves like MultiLineFirst
// here; use DecodeWKBAll to receive every part).
func DecodeWKB(blob []byte, policy MultiLinePolicy) (LineString, error) {
	lines, err := DecodeWKBAll(blob, policy)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, decodeErrf("no line geometry in blob")
	}
	return lines[0], nil
}

// EncodeEWKB renders a LineString as little-endian EWKB with an embedded
// SRID, the form PostGIS geometry columns ingest directly.
func EncodeEWKB(ls LineString, srid uint32) []byte {
	out := make([]byte, 0, 9+4+16*len(ls))
	out = append(out, 1) // little endian
	out = binary.LittleEndian.AppendUint32(out, wkbLineString|ewkbSRIDFlag)
	out = binary.LittleEndian.AppendUint32(out, srid)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ls)))
	for _, p := range ls {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(p.Lng))
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(p.Lat))
	}
	return out
}

// DecodeWKBAll decodes a WKB/EWKB LineString or MultiLineString. For a
// MultiLineString the policy decides whether one or all parts come back.
func DecodeWKBAll(blob []byte, policy MultiLinePolicy) ([]LineString, error) {
	r := &wkbReader{buf: blob}
	return r.readGeometry(policy)
}

type wkbReader struct {
	buf []byte
	pos int
}

func (r *wkbReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *wkbReader) readByteOrder() (binary.ByteOrder, error) {
	if r.remaining() < 1 {
		return nil, decodeErrf("truncated blob: missing byte order")
	}
	b := r.buf[r.pos]
	r.pos++
	switch b {
	case 0:
		return binary.BigEndian, nil
	case 1:
		return binary.LittleEndian, nil
	default:
		return nil, decodeErrf("invalid byte order marker 0x%02x", b)
	}
}

func (r *wkbReader) readUint32(order binary.ByteOrder) (uint32, error) {
	if r.remaining() < 4 {
		return 0, decodeErrf("truncated blob: expected uint32")
	}
	v := order.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *wkbReader) readFloat64(order binary.ByteOrder) (float64, error) {
	if r.remaining() < 8 {
		return 0, decodeErrf("truncated blob: expected float64")
	}
	v := math.Float64frombits(order.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v, nil
}

func (r *wkbReader) readGeometry(policy MultiLinePolicy) ([]LineString, error) {
	order, err := r.readByteOrder()
	if err != nil {
		return nil, err
	}
	rawType, err := r.readUint32(order)
	if err != nil {
		return nil, err
	}

	// EWKB flags first, then the ISO 1000-offset dimension encoding.
	hasZ := rawType&ewkbZFlag != 0
	hasM := rawType&ewkbMFlag != 0
	hasSRID := rawType&ewkbSRIDFlag != 0
	base := rawType &^ (ewkbZFlag | ewkbMFlag | ewkbSRIDFlag)
	switch base / 1000 {
	case 1:
		hasZ = true
	case 2:
		hasM = true
	case 3:
		hasZ, hasM = true, true
	}
	base = base % 1000

	if hasSRID {
		if _, err := r.readUint32(order); err != nil {
			return nil, err
		}
	}

	extraDims := 0
	if hasZ {
		extraDims++
	}
	if hasM {
		extraDims++
	}

	switch base {
	case wkbLineString:
		line, err := r.readLineBody(order, extraDims)
		if err != nil {
			return nil, err
		}
		return []LineString{line}, nil
	case wkbMultiLineString:
		return r.readMultiLine(order, policy)
	default:
		return nil, decodeErrf("unsupported geometry type %d", base)
	}
}

func (r *wkbReader) readLineBody(order binary.ByteOrder, extraDims int) (LineString, error) {
	n, err := r.readUint32(order)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, decodeErrf("linestring with %d points", n)
	}
	// 16 bytes minimum per vertex; reject counts the buffer cannot hold.
	if uint64(n)*16 > uint64(r.remaining()) {
		return nil, decodeErrf("point count %d exceeds blob size", n)
	}
	line := make(LineString, 0, n)
	for i := uint32(0); i < n; i++ {
		lng, err := r.readFloat64(order)
		if err != nil {
			return nil, err
		}
		lat, err := r.readFloat64(order)
		if err != nil {
			return nil, err
		}
		for d := 0; d < extraDims; d++ {
			if _, err := r.readFloat64(order); err != nil {
				return nil, err
			}
		}
		p := Point{Lng: lng, Lat: lat}
		if !p.Valid() {
			return nil, decodeErrf("vertex %d out of range (%f, %f)", i, lng, lat)
		}
		line = append(line, p)
	}
	return line, nil
}

func (r *wkbReader) readMultiLine(order binary.ByteOrder, policy MultiLinePolicy) ([]LineString, error) {
	n, err := r.readUint32(order)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, decodeErrf("empty multilinestring")
	}
	parts := make([]LineString, 0, n)
	for i := uint32(0); i < n; i++ {
		sub, err := r.readGeometry(policy)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub...)
		if policy == MultiLineFirst && len(parts) > 0 {
			return parts[:1], nil
		}
	}

	switch policy {
	case MultiLineAll:
		return parts, nil
	case MultiLineLongest:
		longest := parts[0]
		for _, part := range parts[1:] {
			if part.Length() > longest.Length() {
				longest = part
			}
		}
		return []LineString{longest}, nil
	default:
		return parts[:1], nil
	}
}

// GeoPackage geometry blobs prefix the WKB payload with a "GP" header that
// carries flags and an optional envelope (GeoPackage spec, table 4).
const gpkgMagic = 0x4750 // "GP"

// DecodeGPKG strips a GeoPackage binary header if present and decodes the
// remaining WKB. Plain WKB blobs pass straight through.
func DecodeGPKG(blob []byte, policy MultiLinePolicy) ([]LineString, error) {
	payload, err := stripGPKGHeader(blob)
	if err != nil {
		return nil, err
	}
	return DecodeWKBAll(payload, policy)
}

func stripGPKGHeader(blob []byte) ([]byte, error) {
	if len(blob) < 2 || binary.BigEndian.Uint16(blob[:2]) != gpkgMagic {
		return blob, nil
	}
	if len(blob) < 8 {
		return nil, decodeErrf("truncated geopackage header")
	}
	flags := blob[3]
	if flags&0x20 != 0 {
		return nil, decodeErrf("geopackage extension geometry not supported")
	}
	envelope := (flags >> 1) & 0x07
	var envDoubles int
	switch envelope {
	case 0:
		envDoubles = 0
	case 1:
		envDoubles = 4
	case 2, 3:
		envDoubles = 6
	case 4:
		envDoubles = 8
	default:
		return nil, decodeErrf("invalid geopackage envelope indicator %d", envelope)
	}
	headerLen := 8 + envDoubles*8
	if len(blob) < headerLen {
		return nil, decodeErrf("truncated geopackage envelope")
	}
	if flags&0x10 != 0 {
		// Empty-geometry flag set; nothing to decode.
		return nil, decodeErrf("empty geopackage geometry")
	}
	return blob[headerLen:], nil
}
