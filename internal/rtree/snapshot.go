package rtree

import (
	"errors"
	"fmt"
)

// ErrCorrupt wraps every structural violation reported by Check.
var ErrCorrupt = errors.New("rtree: structural invariant violated")

// NodeView is a read-only copy of one node.
type NodeView struct {
	ID       NodeID   `json:"id"`
	Level    int      `json:"level"`
	Leaf     bool     `json:"leaf"`
	Box      Box      `json:"box"`
	Children []NodeID `json:"children,omitempty"`
	Records  []int64  `json:"records,omitempty"`
	Score    float64  `json:"score"`
	Bound    float64  `json:"bound"`
}

// Snapshot is a detached copy of the tree topology for debug tooling.
type Snapshot struct {
	Root    NodeID     `json:"root"`
	Height  int        `json:"height"`
	Size    int        `json:"size"`
	Dims    int        `json:"dims"`
	Labeled bool       `json:"labeled"`
	Nodes   []NodeView `json:"nodes"`
}

// Snapshot copies the reachable nodes in breadth-first order. Scores are
// only meaningful when Labeled is set.
func (t *Tree[T]) Snapshot() Snapshot {
	snap := Snapshot{
		Root:    t.root,
		Height:  t.Height(),
		Size:    t.size,
		Dims:    t.opts.Dims,
		Labeled: t.labeled,
	}
	queue := []NodeID{t.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		nd := &t.nodes[n]
		v := NodeView{
			ID:    n,
			Level: nd.level,
			Leaf:  nd.leaf(),
			Box:   nd.box.Clone(),
			Score: nd.score,
			Bound: nd.bound,
		}
		for _, e := range nd.entries {
			if nd.leaf() {
				v.Records = append(v.Records, e.item.Key())
			} else {
				v.Children = append(v.Children, e.child)
				queue = append(queue, e.child)
			}
		}
		snap.Nodes = append(snap.Nodes, v)
	}
	return snap
}

// Check verifies the structural invariants: parent links, uniform leaf
// depth, fanout limits, tight boxes that contain every entry, and the item
// count. It returns nil for a healthy tree.
func (t *Tree[T]) Check() error {
	root := &t.nodes[t.root]
	if !root.live {
		return fmt.Errorf("%w: root %d is not live", ErrCorrupt, t.root)
	}
	if root.parent != NoNode {
		return fmt.Errorf("%w: root %d has parent %d", ErrCorrupt, t.root, root.parent)
	}
	if !root.leaf() && len(root.entries) < 2 {
		return fmt.Errorf("%w: internal root %d has %d entries", ErrCorrupt, t.root, len(root.entries))
	}
	count, err := t.checkNode(t.root)
	if err != nil {
		return err
	}
	if count != t.size {
		return fmt.Errorf("%w: counted %d items, size is %d", ErrCorrupt, count, t.size)
	}
	return nil
}

func (t *Tree[T]) checkNode(n NodeID) (int, error) {
	nd := &t.nodes[n]
	if n != t.root {
		if k := len(nd.entries); k < t.opts.MinEntries || k > t.opts.MaxEntries {
			return 0, fmt.Errorf("%w: node %d has %d entries, want [%d, %d]",
				ErrCorrupt, n, k, t.opts.MinEntries, t.opts.MaxEntries)
		}
	} else if len(nd.entries) > t.opts.MaxEntries {
		return 0, fmt.Errorf("%w: root %d has %d entries", ErrCorrupt, n, len(nd.entries))
	}

	var union Box
	for _, e := range nd.entries {
		if e.box.Dims() != t.opts.Dims {
			return 0, fmt.Errorf("%w: node %d holds a %d-dimensional box", ErrCorrupt, n, e.box.Dims())
		}
		if !nd.box.Contains(e.box) {
			return 0, fmt.Errorf("%w: node %d box %v does not contain entry %v", ErrCorrupt, n, nd.box, e.box)
		}
		union = union.Union(e.box)
	}
	if !union.Equal(nd.box) {
		return 0, fmt.Errorf("%w: node %d box %v is not tight, entries span %v", ErrCorrupt, n, nd.box, union)
	}

	if nd.leaf() {
		return len(nd.entries), nil
	}

	total := 0
	for _, e := range nd.entries {
		child := &t.nodes[e.child]
		switch {
		case !child.live:
			return 0, fmt.Errorf("%w: node %d links freed node %d", ErrCorrupt, n, e.child)
		case child.parent != n:
			return 0, fmt.Errorf("%w: node %d has parent %d, linked from %d", ErrCorrupt, e.child, child.parent, n)
		case child.level != nd.level-1:
			return 0, fmt.Errorf("%w: node %d at level %d under level %d", ErrCorrupt, e.child, child.level, nd.level)
		case !e.box.Equal(child.box):
			return 0, fmt.Errorf("%w: entry box %v differs from node %d box %v", ErrCorrupt, e.box, e.child, child.box)
		}
		c, err := t.checkNode(e.child)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}
