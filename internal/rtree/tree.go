package rtree

import (
	"errors"
	"fmt"
)

// Default fanout limits. MinEntries must not exceed MaxEntries/2.
const (
	DefaultMaxEntries = 8
	DefaultMinEntries = 4
)

// ErrInvalidOptions is returned by New for unusable fanout or dimension
// settings.
var ErrInvalidOptions = errors.New("invalid rtree options")

// Keyed is implemented by items stored in a Tree. Keys identify an item
// among entries that share the same box.
type Keyed interface {
	Key() int64
}

// NodeID is a stable index into the tree's node arena. Ids of freed nodes
// are reused by later splits.
type NodeID int32

// NoNode marks a missing parent or child.
const NoNode NodeID = -1

// Options configures a Tree.
type Options struct {
	Dims       int // number of dimensions (2 for lon/lat)
	MaxEntries int // split threshold (default: 8)
	MinEntries int // underflow threshold (default: 4)
}

func (o Options) withDefaults() Options {
	if o.Dims == 0 {
		o.Dims = 2
	}
	if o.MaxEntries == 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.MinEntries == 0 {
		o.MinEntries = min(DefaultMinEntries, o.MaxEntries/2)
	}
	return o
}

// Validate checks the fanout constraints of the quadratic split.
func (o Options) Validate() error {
	if o.Dims < 1 {
		return fmt.Errorf("%w: dims must be positive, got %d", ErrInvalidOptions, o.Dims)
	}
	if o.MaxEntries < 2 {
		return fmt.Errorf("%w: max entries must be at least 2, got %d", ErrInvalidOptions, o.MaxEntries)
	}
	if o.MinEntries < 1 || o.MinEntries > o.MaxEntries/2 {
		return fmt.Errorf("%w: min entries must be in [1, %d], got %d",
			ErrInvalidOptions, o.MaxEntries/2, o.MinEntries)
	}
	return nil
}

// entry is a slot of a node. Leaf entries use item and score; internal
// entries use child.
type entry[T Keyed] struct {
	box   Box
	child NodeID
	item  T
	score float64
}

type node[T Keyed] struct {
	parent  NodeID
	level   int // 0 for leaves
	box     Box
	entries []entry[T]
	score   float64 // summary of child scores
	bound   float64 // max score of any record below
	live    bool
}

func (n *node[T]) leaf() bool { return n.level == 0 }

// Tree is an R-tree storing items of type T. The zero value is not usable;
// construct one with New.
type Tree[T Keyed] struct {
	opts    Options
	nodes   []node[T]
	free    []NodeID
	root    NodeID
	size    int
	labeled bool
}

// New creates an empty tree.
func New[T Keyed](opts Options) (*Tree[T], error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	t := &Tree[T]{opts: opts}
	t.root = t.alloc(0)
	return t, nil
}

// Options returns the effective options of t.
func (t *Tree[T]) Options() Options { return t.opts }

// Len returns the number of stored items.
func (t *Tree[T]) Len() int { return t.size }

// Height returns the number of levels, 1 for a tree holding only a root leaf.
func (t *Tree[T]) Height() int { return t.nodes[t.root].level + 1 }

// Bounds returns the box covering every stored item.
func (t *Tree[T]) Bounds() Box { return t.nodes[t.root].box.Clone() }

// Labeled reports whether node scores reflect the current contents. Any
// mutation clears the flag until the next Relabel.
func (t *Tree[T]) Labeled() bool { return t.labeled }

// Insert adds item with the given box. Insert never fails; a box whose
// dimension differs from the tree's is a programming error and panics.
func (t *Tree[T]) Insert(box Box, item T) {
	t.mustDims(box)
	t.insertEntry(entry[T]{box: box.Clone(), child: NoNode, item: item}, 0)
	t.size++
	t.labeled = false
	t.debugCheck()
}

func (t *Tree[T]) mustDims(box Box) {
	if box.Dims() != t.opts.Dims {
		panic(fmt.Sprintf("rtree: box %v has %d dimensions, tree has %d", box, box.Dims(), t.opts.Dims))
	}
}

// insertEntry places e into a node at the given level and repairs the path
// to the root.
func (t *Tree[T]) insertEntry(e entry[T], level int) {
	n := t.chooseNode(e.box, level)
	if e.child != NoNode {
		t.nodes[e.child].parent = n
	}
	t.nodes[n].entries = append(t.nodes[n].entries, e)
	t.adjust(n)
}

// chooseNode descends from the root to the given level, picking the child
// that needs the least enlargement, then the one with the smaller area,
// then the one with fewer entries.
func (t *Tree[T]) chooseNode(box Box, level int) NodeID {
	n := t.root
	for t.nodes[n].level > level {
		entries := t.nodes[n].entries
		best := 0
		bestEnl := entries[0].box.enlargement(box)
		bestArea := entries[0].box.Area()
		bestCount := len(t.nodes[entries[0].child].entries)
		for i := 1; i < len(entries); i++ {
			enl := entries[i].box.enlargement(box)
			area := entries[i].box.Area()
			count := len(t.nodes[entries[i].child].entries)
			if enl < bestEnl ||
				(enl == bestEnl && area < bestArea) ||
				(enl == bestEnl && area == bestArea && count < bestCount) {
				best, bestEnl, bestArea, bestCount = i, enl, area, count
			}
		}
		n = entries[best].child
	}
	return n
}

// adjust walks from n to the root re-tightening boxes and splitting any
// node that overflowed. A root split adds a level.
func (t *Tree[T]) adjust(n NodeID) {
	sibling := NoNode
	if len(t.nodes[n].entries) > t.opts.MaxEntries {
		sibling = t.split(n)
	}
	for {
		t.tighten(n)
		p := t.nodes[n].parent
		if p == NoNode {
			break
		}
		t.nodes[p].entries[t.childIndex(p, n)].box = t.nodes[n].box.Clone()
		if sibling != NoNode {
			t.nodes[sibling].parent = p
			t.nodes[p].entries = append(t.nodes[p].entries, entry[T]{
				box:   t.nodes[sibling].box.Clone(),
				child: sibling,
			})
			sibling = NoNode
			if len(t.nodes[p].entries) > t.opts.MaxEntries {
				sibling = t.split(p)
			}
		}
		n = p
	}
	if sibling != NoNode {
		t.growRoot(n, sibling)
	}
}

func (t *Tree[T]) growRoot(left, right NodeID) {
	r := t.alloc(t.nodes[left].level + 1)
	t.nodes[r].entries = append(t.nodes[r].entries,
		entry[T]{box: t.nodes[left].box.Clone(), child: left},
		entry[T]{box: t.nodes[right].box.Clone(), child: right},
	)
	t.nodes[left].parent = r
	t.nodes[right].parent = r
	t.tighten(r)
	t.root = r
}

// tighten recomputes the box of n from its entries.
func (t *Tree[T]) tighten(n NodeID) {
	nd := &t.nodes[n]
	if len(nd.entries) == 0 {
		nd.box = Box{}
		return
	}
	b := nd.entries[0].box.Clone()
	for _, e := range nd.entries[1:] {
		b.extend(e.box)
	}
	nd.box = b
}

func (t *Tree[T]) childIndex(parent, child NodeID) int {
	for i, e := range t.nodes[parent].entries {
		if e.child == child {
			return i
		}
	}
	panic(fmt.Sprintf("rtree: node %d not found in parent %d", child, parent))
}

func (t *Tree[T]) alloc(level int) NodeID {
	nd := node[T]{
		parent:  NoNode,
		level:   level,
		entries: make([]entry[T], 0, t.opts.MaxEntries+1),
		live:    true,
	}
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = nd
		return id
	}
	t.nodes = append(t.nodes, nd)
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree[T]) release(n NodeID) {
	t.nodes[n] = node[T]{parent: NoNode}
	t.free = append(t.free, n)
}

// Items returns every stored item in traversal order.
func (t *Tree[T]) Items() []T {
	out := make([]T, 0, t.size)
	t.walkLeaves(t.root, func(e *entry[T]) {
		out = append(out, e.item)
	})
	return out
}

// Find returns the item with the given key stored under exactly box.
func (t *Tree[T]) Find(box Box, key int64) (T, bool) {
	leaf, idx := t.findLeaf(t.root, box, key)
	if leaf == NoNode {
		var zero T
		return zero, false
	}
	return t.nodes[leaf].entries[idx].item, true
}

// Update replaces the item with the given key stored under exactly box by
// fn's result. The entry keeps its position; fn must not change the key.
func (t *Tree[T]) Update(box Box, key int64, fn func(T) T) bool {
	leaf, idx := t.findLeaf(t.root, box, key)
	if leaf == NoNode {
		return false
	}
	e := &t.nodes[leaf].entries[idx]
	e.item = fn(e.item)
	t.labeled = false
	return true
}

// findLeaf locates the leaf entry whose box equals box and whose item key
// equals key.
func (t *Tree[T]) findLeaf(n NodeID, box Box, key int64) (NodeID, int) {
	nd := &t.nodes[n]
	if nd.leaf() {
		for i := range nd.entries {
			if nd.entries[i].item.Key() == key && nd.entries[i].box.Equal(box) {
				return n, i
			}
		}
		return NoNode, -1
	}
	for _, e := range nd.entries {
		if !e.box.Contains(box) {
			continue
		}
		if leaf, idx := t.findLeaf(e.child, box, key); leaf != NoNode {
			return leaf, idx
		}
	}
	return NoNode, -1
}

func (t *Tree[T]) walkLeaves(n NodeID, fn func(*entry[T])) {
	nd := &t.nodes[n]
	if nd.leaf() {
		for i := range nd.entries {
			fn(&nd.entries[i])
		}
		return
	}
	for _, e := range nd.entries {
		t.walkLeaves(e.child, fn)
	}
}
