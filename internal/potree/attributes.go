package potree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAttribute is returned for attribute names outside the catalog.
var ErrUnknownAttribute = errors.New("unknown point attribute")

// PointAttribute is one fixed-size field of a point record.
type PointAttribute struct {
	Name  string
	Bytes int
}

// Attributes known to the converter that produced the octree.
var (
	PositionCartesian  = PointAttribute{"POSITION_CARTESIAN", 12}
	ColorPacked        = PointAttribute{"COLOR_PACKED", 4}
	Intensity          = PointAttribute{"INTENSITY", 2}
	Classification     = PointAttribute{"CLASSIFICATION", 1}
	ReturnNumber       = PointAttribute{"RETURN_NUMBER", 1}
	NumberOfReturns    = PointAttribute{"NUMBER_OF_RETURNS", 1}
	SourceID           = PointAttribute{"SOURCE_ID", 2}
	GPSTime            = PointAttribute{"GPS_TIME", 8}
	NormalSphereMapped = PointAttribute{"NORMAL_SPHEREMAPPED", 2}
	NormalOct16        = PointAttribute{"NORMAL_OCT16", 2}
	Normal             = PointAttribute{"NORMAL", 12}
)

var catalog = map[string]PointAttribute{}

func init() {
	for _, a := range []PointAttribute{
		PositionCartesian, ColorPacked, Intensity, Classification, ReturnNumber,
		NumberOfReturns, SourceID, GPSTime, NormalSphereMapped, NormalOct16, Normal,
	} {
		catalog[a.Name] = a
	}
}

// LookupAttribute returns the catalog entry for name.
func LookupAttribute(name string) (PointAttribute, error) {
	a, ok := catalog[strings.ToUpper(name)]
	if !ok {
		return PointAttribute{}, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return a, nil
}

// PointAttributes is the ordered record layout of a cloud's .bin files.
type PointAttributes struct {
	list  []PointAttribute
	bytes int
}

// NewPointAttributes resolves names against the catalog, keeping their order.
func NewPointAttributes(names []string) (PointAttributes, error) {
	var pa PointAttributes
	for _, name := range names {
		a, err := LookupAttribute(name)
		if err != nil {
			return PointAttributes{}, err
		}
		pa.list = append(pa.list, a)
		pa.bytes += a.Bytes
	}
	return pa, nil
}

// Bytes is the size of one record.
func (pa PointAttributes) Bytes() int { return pa.bytes }

// List returns the attributes in record order.
func (pa PointAttributes) List() []PointAttribute {
	return append([]PointAttribute(nil), pa.list...)
}

// Names returns the attribute names in record order.
func (pa PointAttributes) Names() []string {
	names := make([]string, len(pa.list))
	for i, a := range pa.list {
		names[i] = a.Name
	}
	return names
}

// Contains reports whether a is part of the record.
func (pa PointAttributes) Contains(a PointAttribute) bool {
	_, ok := pa.OffsetOf(a)
	return ok
}

// OffsetOf returns the byte offset of a within a record.
func (pa PointAttributes) OffsetOf(a PointAttribute) (int, bool) {
	offset := 0
	for _, x := range pa.list {
		if x.Name == a.Name {
			return offset, true
		}
		offset += x.Bytes
	}
	return 0, false
}
