package potree

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/potree-clip/internal/fsutil"
)

// MetadataFile is the name of the root document inside a cloud directory.
const MetadataFile = "cloud.js"

// BoundingBox is the cloud.js bounding box representation.
type BoundingBox struct {
	LX float64 `json:"lx"`
	LY float64 `json:"ly"`
	LZ float64 `json:"lz"`
	UX float64 `json:"ux"`
	UY float64 `json:"uy"`
	UZ float64 `json:"uz"`
}

// Box returns the bounding box as an r3.Box.
func (b BoundingBox) Box() r3.Box {
	return r3.Box{
		Min: r3.Vec{X: b.LX, Y: b.LY, Z: b.LZ},
		Max: r3.Vec{X: b.UX, Y: b.UY, Z: b.UZ},
	}
}

// Metadata is the content of cloud.js.
type Metadata struct {
	Version           string       `json:"version,omitempty"`
	OctreeDir         string       `json:"octreeDir,omitempty"`
	Points            int64        `json:"points,omitempty"`
	BoundingBox       BoundingBox  `json:"boundingBox"`
	TightBoundingBox  *BoundingBox `json:"tightBoundingBox,omitempty"`
	PointAttributes   []string     `json:"pointAttributes"`
	Spacing           float64      `json:"spacing,omitempty"`
	Scale             float64      `json:"scale"`
	HierarchyStepSize int          `json:"hierarchyStepSize"`
}

// Validate checks the fields the reader depends on.
func (m *Metadata) Validate() error {
	if m.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %g", m.Scale)
	}
	if m.HierarchyStepSize <= 0 {
		return fmt.Errorf("hierarchyStepSize must be positive, got %d", m.HierarchyStepSize)
	}
	b := m.BoundingBox
	if b.LX > b.UX || b.LY > b.UY || b.LZ > b.UZ {
		return errors.New("boundingBox min exceeds max")
	}
	if len(m.PointAttributes) == 0 {
		return errors.New("pointAttributes is empty")
	}
	return nil
}

// Cloud is an opened octree: its metadata plus the locations of its node
// files.
type Cloud struct {
	Path        string
	Metadata    Metadata
	Attributes  PointAttributes
	BoundingBox r3.Box

	fsys    fsutil.FileSystem
	dataDir string
}

// Open loads the metadata at path. A directory resolves to its cloud.js.
func Open(fsys fsutil.FileSystem, path string) (*Cloud, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat point cloud: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, MetadataFile)
	}

	raw, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	attrs, err := NewPointAttributes(md.PointAttributes)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", path, err)
	}

	octreeDir := md.OctreeDir
	if octreeDir == "" {
		octreeDir = "data"
	}
	return &Cloud{
		Path:        path,
		Metadata:    md,
		Attributes:  attrs,
		BoundingBox: md.BoundingBox.Box(),
		fsys:        fsys,
		dataDir:     filepath.Join(filepath.Dir(path), octreeDir),
	}, nil
}

// Scale is the quantization step of stored positions.
func (c *Cloud) Scale() float64 { return c.Metadata.Scale }

// StepSize is the number of levels held by one hierarchy chunk.
func (c *Cloud) StepSize() int { return c.Metadata.HierarchyStepSize }

// NodeFile returns the path of a node's file with the given extension.
func (c *Cloud) NodeFile(name, ext string) string {
	return filepath.Join(c.dataDir, HierarchyPath(name, c.StepSize()), name+ext)
}

// ReadPoints returns the raw point records of a node.
func (c *Cloud) ReadPoints(name string) ([]byte, error) {
	return c.fsys.ReadFile(c.NodeFile(name, ".bin"))
}

// PointsSize returns the on-disk size of a node's point records.
func (c *Cloud) PointsSize(name string) (int64, error) {
	info, err := c.fsys.Stat(c.NodeFile(name, ".bin"))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (c *Cloud) readHierarchy(name string) ([]byte, error) {
	return c.fsys.ReadFile(c.NodeFile(name, ".hrc"))
}
