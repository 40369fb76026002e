package testutil

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/geom"
)

// Point is a synthetic point in the cloud's local coordinates.
type Point struct {
	X, Y, Z        float64
	R, G, B        uint8
	Intensity      uint16
	Classification uint8
}

// Octree describes a synthetic Potree 1.x octree.
type Octree struct {
	BoundingBox r3.Box
	Scale       float64
	StepSize    int
	// Attributes defaults to POSITION_CARTESIAN and COLOR_PACKED.
	Attributes []string
	// Nodes maps node names to their points. Ancestors are added implicitly.
	Nodes map[string][]Point
	// SkipHierarchy lists chunk roots whose .hrc file is not written.
	SkipHierarchy []string
}

var attributeSizes = map[string]int{
	"POSITION_CARTESIAN":  12,
	"COLOR_PACKED":        4,
	"INTENSITY":           2,
	"CLASSIFICATION":      1,
	"RETURN_NUMBER":       1,
	"NUMBER_OF_RETURNS":   1,
	"SOURCE_ID":           2,
	"GPS_TIME":            8,
	"NORMAL_SPHEREMAPPED": 2,
	"NORMAL_OCT16":        2,
	"NORMAL":              12,
}

// WriteOctree writes cloud.js, the hierarchy chunks and the point files of o
// under dir and returns the path of cloud.js.
func WriteOctree(t testing.TB, fsys fsutil.FileSystem, dir string, o Octree) string {
	t.Helper()

	if o.StepSize == 0 {
		o.StepSize = 5
	}
	if len(o.Attributes) == 0 {
		o.Attributes = []string{"POSITION_CARTESIAN", "COLOR_PACKED"}
	}

	nodes := map[string]bool{"r": true}
	for name := range o.Nodes {
		for n := name; len(n) >= 1; n = n[:len(n)-1] {
			nodes[n] = true
		}
	}
	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("write octree: %v", err)
		}
	}

	bbox := o.BoundingBox
	meta := map[string]interface{}{
		"version":           "1.7",
		"octreeDir":         "data",
		"boundingBox":       boxJSON(bbox),
		"scale":             o.Scale,
		"spacing":           1.0,
		"hierarchyStepSize": o.StepSize,
		"pointAttributes":   o.Attributes,
	}
	raw, err := json.Marshal(meta)
	must(err)
	cloudPath := filepath.Join(dir, "cloud.js")
	must(fsys.MkdirAll(dir, 0755))
	must(fsys.WriteFile(cloudPath, raw, 0644))

	skip := make(map[string]bool)
	for _, n := range o.SkipHierarchy {
		skip[n] = true
	}

	dataDir := filepath.Join(dir, "data")
	for _, name := range names {
		level := len(name) - 1
		nodeDir := filepath.Join(dataDir, hierarchyPath(name, o.StepSize))
		must(fsys.MkdirAll(nodeDir, 0755))

		box := NodeBox(bbox, name)
		must(fsys.WriteFile(filepath.Join(nodeDir, name+".bin"), encodePoints(o, box, o.Nodes[name]), 0644))

		if level%o.StepSize == 0 && !skip[name] {
			must(fsys.WriteFile(filepath.Join(nodeDir, name+".hrc"), encodeChunk(name, o.StepSize, nodes, o.Nodes), 0644))
		}
	}
	return cloudPath
}

// NodeBox returns the box of the named node inside the root box.
func NodeBox(root r3.Box, name string) r3.Box {
	box := root
	for _, c := range name[1:] {
		box = geom.ChildBox(box, int(c-'0'))
	}
	return box
}

func encodeChunk(root string, step int, nodes map[string]bool, points map[string][]Point) []byte {
	var out []byte
	maxLevel := len(root) - 1 + step
	queue := []string{root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		var mask uint8
		for i := 0; i < 8; i++ {
			child := name + string(rune('0'+i))
			if !nodes[child] {
				continue
			}
			mask |= 1 << i
			if len(name)-1 < maxLevel {
				queue = append(queue, child)
			}
		}
		var rec [5]byte
		rec[0] = mask
		binary.LittleEndian.PutUint32(rec[1:], uint32(len(points[name])))
		out = append(out, rec[:]...)
	}
	return out
}

func encodePoints(o Octree, box r3.Box, pts []Point) []byte {
	size := 0
	for _, a := range o.Attributes {
		size += attributeSizes[a]
	}
	out := make([]byte, 0, size*len(pts))
	for _, p := range pts {
		for _, a := range o.Attributes {
			field := make([]byte, attributeSizes[a])
			switch a {
			case "POSITION_CARTESIAN":
				binary.LittleEndian.PutUint32(field[0:], quantize(p.X, box.Min.X, o.Scale))
				binary.LittleEndian.PutUint32(field[4:], quantize(p.Y, box.Min.Y, o.Scale))
				binary.LittleEndian.PutUint32(field[8:], quantize(p.Z, box.Min.Z, o.Scale))
			case "COLOR_PACKED":
				field[0], field[1], field[2], field[3] = p.R, p.G, p.B, 255
			case "INTENSITY":
				binary.LittleEndian.PutUint16(field, p.Intensity)
			case "CLASSIFICATION":
				field[0] = p.Classification
			case "RETURN_NUMBER", "NUMBER_OF_RETURNS":
				field[0] = 1
			case "GPS_TIME":
				binary.LittleEndian.PutUint64(field, math.Float64bits(1.5))
			}
			out = append(out, field...)
		}
	}
	return out
}

func quantize(v, min, scale float64) uint32 {
	return uint32(math.Round((v - min) / scale))
}

func hierarchyPath(name string, step int) string {
	digits := name[1:]
	path := "r"
	for i := 0; i+step <= len(digits); i += step {
		path += "/" + digits[i:i+step]
	}
	return path
}

func boxJSON(b r3.Box) map[string]float64 {
	return map[string]float64{
		"lx": b.Min.X, "ly": b.Min.Y, "lz": b.Min.Z,
		"ux": b.Max.X, "uy": b.Max.Y, "uz": b.Max.Z,
	}
}
