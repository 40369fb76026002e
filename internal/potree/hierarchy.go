package potree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrCorruptHierarchy is returned when a .hrc chunk does not decode into a
// consistent tree.
var ErrCorruptHierarchy = errors.New("corrupt hierarchy")

// hierarchyRecordSize is one child mask byte plus a uint32 point count.
const hierarchyRecordSize = 5

// Node is one octree node. Parent is a back-pointer only used while walking.
type Node struct {
	Name      string
	Index     int
	Parent    *Node
	Children  [8]*Node
	ChildMask uint8
	NumPoints uint32
	Box       r3.Box

	// stub marks a child announced by its parent's mask whose record lives
	// in the next hierarchy chunk.
	stub bool
}

// Level is the depth of the node, zero for the root.
func (n *Node) Level() int { return len(n.Name) - 1 }

// HasChildren reports whether the mask announces any child.
func (n *Node) HasChildren() bool { return n.ChildMask != 0 }

// Walk visits n and its decoded descendants breadth-first.
func (n *Node) Walk(fn func(*Node)) {
	queue := []*Node{n}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		fn(node)
		for _, c := range node.Children {
			if c != nil {
				queue = append(queue, c)
			}
		}
	}
}

// HierarchyPath returns the directory holding a node's files, relative to
// the octree data directory. Every full group of step digits after the
// leading "r" becomes one directory level.
func HierarchyPath(name string, step int) string {
	digits := strings.TrimPrefix(name, "r")
	var b strings.Builder
	b.WriteString("r")
	for i := 0; i+step <= len(digits); i += step {
		b.WriteByte('/')
		b.WriteString(digits[i : i+step])
	}
	return b.String()
}

// DecodeHierarchy parses one .hrc chunk. Record 0 describes rootName; each
// following record fills the next announced child slot in breadth-first
// discovery order. Nodes on the last level of a chunk keep their masks, so
// children announced without a record are returned as stubs to be replaced
// when their own chunk is loaded.
func DecodeHierarchy(data []byte, rootName string) (*Node, error) {
	if len(data) == 0 || len(data)%hierarchyRecordSize != 0 {
		return nil, fmt.Errorf("%w: %s.hrc has %d bytes", ErrCorruptHierarchy, rootName, len(data))
	}
	numRecords := len(data) / hierarchyRecordSize

	root := &Node{Name: rootName, Index: nodeIndex(rootName)}
	nodes := make([]*Node, 1, numRecords)
	nodes[0] = root

	for i := 0; i < numRecords; i++ {
		if i >= len(nodes) {
			return nil, fmt.Errorf("%w: %s.hrc has %d records, masks announce %d",
				ErrCorruptHierarchy, rootName, numRecords, len(nodes))
		}
		rec := data[i*hierarchyRecordSize : (i+1)*hierarchyRecordSize]
		node := nodes[i]
		node.stub = false
		node.ChildMask = rec[0]
		node.NumPoints = binary.LittleEndian.Uint32(rec[1:])

		for j := 0; j < 8; j++ {
			if node.ChildMask&(1<<j) == 0 {
				continue
			}
			child := &Node{
				Name:   fmt.Sprintf("%s%d", node.Name, j),
				Index:  j,
				Parent: node,
				stub:   true,
			}
			node.Children[j] = child
			nodes = append(nodes, child)
		}
	}
	return root, nil
}

func nodeIndex(name string) int {
	if len(name) < 2 {
		return 0
	}
	return int(name[len(name)-1] - '0')
}
