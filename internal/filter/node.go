package filter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/las"
	"github.com/banshee-data/potree-clip/internal/potree"
)

// ErrCorruptPointData is returned when a .bin file does not hold a whole
// number of point records.
var ErrCorruptPointData = errors.New("corrupt point data")

// Point is one decoded point record in the cloud's local space.
type Point struct {
	Position        r3.Vec
	R, G, B         uint8
	Intensity       uint16
	Classification  uint8
	ReturnNumber    uint8
	NumberOfReturns uint8
	SourceID        uint16
	GPSTime         float64
}

// recordLayout holds the offset of each known field, or -1 when absent.
type recordLayout struct {
	size                                  int
	position, color, intensity, class     int
	returnNumber, numReturns, source, gps int
}

func newRecordLayout(attrs potree.PointAttributes) recordLayout {
	off := func(a potree.PointAttribute) int {
		if o, ok := attrs.OffsetOf(a); ok {
			return o
		}
		return -1
	}
	return recordLayout{
		size:         attrs.Bytes(),
		position:     off(potree.PositionCartesian),
		color:        off(potree.ColorPacked),
		intensity:    off(potree.Intensity),
		class:        off(potree.Classification),
		returnNumber: off(potree.ReturnNumber),
		numReturns:   off(potree.NumberOfReturns),
		source:       off(potree.SourceID),
		gps:          off(potree.GPSTime),
	}
}

// decode reads the present fields of one record. Positions are
// value*scale + min.
func (l *recordLayout) decode(rec []byte, scale float64, min r3.Vec, p *Point) {
	le := binary.LittleEndian
	if l.position >= 0 {
		b := rec[l.position:]
		p.Position = r3.Vec{
			X: float64(le.Uint32(b[0:]))*scale + min.X,
			Y: float64(le.Uint32(b[4:]))*scale + min.Y,
			Z: float64(le.Uint32(b[8:]))*scale + min.Z,
		}
	}
	if l.color >= 0 {
		p.R, p.G, p.B = rec[l.color], rec[l.color+1], rec[l.color+2]
	}
	if l.intensity >= 0 {
		p.Intensity = le.Uint16(rec[l.intensity:])
	}
	if l.class >= 0 {
		p.Classification = rec[l.class]
	}
	if l.returnNumber >= 0 {
		p.ReturnNumber = rec[l.returnNumber]
	}
	if l.numReturns >= 0 {
		p.NumberOfReturns = rec[l.numReturns]
	}
	if l.source >= 0 {
		p.SourceID = le.Uint16(rec[l.source:])
	}
	if l.gps >= 0 {
		p.GPSTime = math.Float64frombits(le.Uint64(rec[l.gps:]))
	}
}

// NodeResult is the outcome of filtering one node.
type NodeResult struct {
	Points    int
	Accepted  int
	Discarded int
	// Records holds Accepted encoded LAS records.
	Records []byte
}

// NodeFilter tests the points of octree nodes against local-space regions
// and encodes accepted points as LAS records.
type NodeFilter struct {
	layout   recordLayout
	scale    float64
	regions  []geom.ClipRegion
	outMin   r3.Vec
	outScale float64
}

// NewNodeFilter returns a filter for records described by attrs, stored with
// the given scale. Accepted points are quantized as (coord-outMin)/outScale.
func NewNodeFilter(attrs potree.PointAttributes, scale float64, regions []geom.ClipRegion, outMin r3.Vec, outScale float64) (*NodeFilter, error) {
	if !attrs.Contains(potree.PositionCartesian) {
		return nil, fmt.Errorf("point records have no %s attribute", potree.PositionCartesian.Name)
	}
	if outScale <= 0 {
		return nil, fmt.Errorf("output scale must be positive, got %g", outScale)
	}
	return &NodeFilter{
		layout:   newRecordLayout(attrs),
		scale:    scale,
		regions:  regions,
		outMin:   outMin,
		outScale: outScale,
	}, nil
}

// Decode returns every point in data, a node's raw records.
func (f *NodeFilter) Decode(data []byte, nodeMin r3.Vec) ([]Point, error) {
	n, err := f.count(data)
	if err != nil {
		return nil, err
	}
	points := make([]Point, n)
	for i := range points {
		f.layout.decode(data[i*f.layout.size:], f.scale, nodeMin, &points[i])
	}
	return points, nil
}

// Filter decodes the records of one node whose box starts at nodeMin and
// keeps points inside any region. Point order is preserved.
func (f *NodeFilter) Filter(data []byte, nodeMin r3.Vec) (NodeResult, error) {
	n, err := f.count(data)
	if err != nil {
		return NodeResult{}, err
	}

	res := NodeResult{Points: n, Records: make([]byte, 0, n*las.RecordLength)}
	var p Point
	var rec las.Record
	var buf [las.RecordLength]byte
	for i := 0; i < n; i++ {
		f.layout.decode(data[i*f.layout.size:], f.scale, nodeMin, &p)
		if !geom.AnyContainsPoint(f.regions, p.Position) {
			res.Discarded++
			continue
		}
		f.encode(&p, &rec)
		rec.Put(buf[:])
		res.Records = append(res.Records, buf[:]...)
		res.Accepted++
	}
	return res, nil
}

func (f *NodeFilter) count(data []byte) (int, error) {
	if f.layout.size == 0 || len(data)%f.layout.size != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a multiple of the %d byte record",
			ErrCorruptPointData, len(data), f.layout.size)
	}
	return len(data) / f.layout.size, nil
}

func (f *NodeFilter) encode(p *Point, rec *las.Record) {
	rec.X = int32((p.Position.X - f.outMin.X) / f.outScale)
	rec.Y = int32((p.Position.Y - f.outMin.Y) / f.outScale)
	rec.Z = int32((p.Position.Z - f.outMin.Z) / f.outScale)
	rec.Intensity = p.Intensity
	rec.ReturnNumber = p.ReturnNumber
	rec.NumberOfReturns = p.NumberOfReturns
	rec.Classification = p.Classification
	rec.PointSourceID = p.SourceID
	rec.Red = las.Color8To16(p.R)
	rec.Green = las.Color8To16(p.G)
	rec.Blue = las.Color8To16(p.B)
}
