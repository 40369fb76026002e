package potree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/potree-clip/internal/geom"
	"github.com/banshee-data/potree-clip/internal/monitoring"
)

// LoadRoot decodes the root hierarchy chunk and assigns the cloud bounding
// box to the root node.
func (c *Cloud) LoadRoot() (*Node, error) {
	data, err := c.readHierarchy("r")
	if err != nil {
		return nil, fmt.Errorf("read root hierarchy: %w", err)
	}
	root, err := DecodeHierarchy(data, "r")
	if err != nil {
		return nil, err
	}
	root.Box = c.BoundingBox
	return root, nil
}

// FindVisibleNodes walks the octree breadth-first and returns the root plus
// every node whose box intersects at least one region. Regions must already
// be in the cloud's local space. Subtrees of rejected nodes are never loaded.
func (c *Cloud) FindVisibleNodes(ctx context.Context, regions []geom.ClipRegion) ([]*Node, error) {
	root, err := c.LoadRoot()
	if err != nil {
		return nil, err
	}

	step := c.StepSize()
	visible := []*Node{root}
	queue := []*Node{root}
	chunks := 1

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue[0]
		queue = queue[1:]

		for _, child := range node.Children {
			if child == nil {
				continue
			}
			child.Box = geom.ChildBox(node.Box, child.Index)
			if !geom.AnyIntersectsBox(regions, child.Box) {
				continue
			}
			visible = append(visible, child)

			if child.Level()%step == 0 {
				if err := c.expand(child); err != nil {
					return nil, err
				}
				chunks++
			}
			if child.stub {
				return nil, fmt.Errorf("%w: %s announced without a record", ErrCorruptHierarchy, child.Name)
			}
			queue = append(queue, child)
		}
	}

	monitoring.Logf("[Traversal] %s: %d visible nodes, %d hierarchy chunks", c.Path, len(visible), chunks)
	return visible, nil
}

// expand loads the hierarchy chunk rooted at n and adopts its subtree,
// replacing any stubs decoded from the parent chunk. A missing chunk is
// accepted only when nothing announced children below n.
func (c *Cloud) expand(n *Node) error {
	data, err := c.readHierarchy(n.Name)
	if errors.Is(err, fs.ErrNotExist) && !n.HasChildren() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read hierarchy %s: %w", n.Name, err)
	}
	sub, err := DecodeHierarchy(data, n.Name)
	if err != nil {
		return err
	}
	n.ChildMask = sub.ChildMask
	n.NumPoints = sub.NumPoints
	n.stub = false
	n.Children = sub.Children
	for _, c := range n.Children {
		if c != nil {
			c.Parent = n
		}
	}
	return nil
}
