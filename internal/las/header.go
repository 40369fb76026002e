// Package las writes the minimal LAS 1.2 subset produced by region filtering:
// a 227-byte header without VLRs followed by point data format 2 records.
package las

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// HeaderSize is the size of a LAS 1.2 public header block.
	HeaderSize = 227
	// RecordLength is the size of a point data format 2 record.
	RecordLength = 26
	// PointFormat is the only point data format written.
	PointFormat = 2
)

// ErrInvalidHeader is returned when a header does not parse as LAS 1.2.
var ErrInvalidHeader = errors.New("invalid LAS header")

// Header is the subset of the public header block that is populated.
type Header struct {
	SystemIdentifier   string
	GeneratingSoftware string
	CreationDay        uint16
	CreationYear       uint16
	PointCount         uint32
	Scale              r3.Vec
	Offset             r3.Vec
	Bounds             r3.Box
}

// NewHeader returns a header whose integer coordinates are (coord-min)/scale
// within bounds.
func NewHeader(scale float64, bounds r3.Box) Header {
	return Header{
		SystemIdentifier:   "potree-clip",
		GeneratingSoftware: "potree-clip region filter",
		Scale:              r3.Vec{X: scale, Y: scale, Z: scale},
		Offset:             bounds.Min,
		Bounds:             bounds,
	}
}

// MarshalBinary encodes the header into HeaderSize bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	le := binary.LittleEndian

	copy(buf[0:4], "LASF")
	buf[24], buf[25] = 1, 2
	putString(buf[26:58], h.SystemIdentifier)
	putString(buf[58:90], h.GeneratingSoftware)
	le.PutUint16(buf[90:], h.CreationDay)
	le.PutUint16(buf[92:], h.CreationYear)
	le.PutUint16(buf[94:], HeaderSize)
	le.PutUint32(buf[96:], HeaderSize)
	le.PutUint32(buf[100:], 0)
	buf[104] = PointFormat
	le.PutUint16(buf[105:], RecordLength)
	le.PutUint32(buf[107:], h.PointCount)
	// All points are reported as first returns.
	le.PutUint32(buf[111:], h.PointCount)

	floats := []float64{
		h.Scale.X, h.Scale.Y, h.Scale.Z,
		h.Offset.X, h.Offset.Y, h.Offset.Z,
		h.Bounds.Max.X, h.Bounds.Min.X,
		h.Bounds.Max.Y, h.Bounds.Min.Y,
		h.Bounds.Max.Z, h.Bounds.Min.Z,
	}
	for i, f := range floats {
		le.PutUint64(buf[131+8*i:], math.Float64bits(f))
	}
	return buf, nil
}

// ReadHeader parses a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("read LAS header: %w", err)
	}
	if string(buf[0:4]) != "LASF" {
		return Header{}, fmt.Errorf("%w: bad signature %q", ErrInvalidHeader, buf[0:4])
	}
	le := binary.LittleEndian
	if buf[104] != PointFormat || le.Uint16(buf[105:]) != RecordLength {
		return Header{}, fmt.Errorf("%w: point format %d length %d", ErrInvalidHeader, buf[104], le.Uint16(buf[105:]))
	}
	f := func(off int) float64 { return math.Float64frombits(le.Uint64(buf[off:])) }
	return Header{
		SystemIdentifier:   getString(buf[26:58]),
		GeneratingSoftware: getString(buf[58:90]),
		CreationDay:        le.Uint16(buf[90:]),
		CreationYear:       le.Uint16(buf[92:]),
		PointCount:         le.Uint32(buf[107:]),
		Scale:              r3.Vec{X: f(131), Y: f(139), Z: f(147)},
		Offset:             r3.Vec{X: f(155), Y: f(163), Z: f(171)},
		Bounds: r3.Box{
			Min: r3.Vec{X: f(187), Y: f(203), Z: f(219)},
			Max: r3.Vec{X: f(179), Y: f(195), Z: f(211)},
		},
	}, nil
}

func putString(dst []byte, s string) {
	copy(dst[:len(dst)-1], s)
}

func getString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
