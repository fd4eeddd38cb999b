package rtree

// Remove deletes the entry whose box equals box and whose key matches item.
// It reports false, leaving the tree untouched, when no such entry exists.
func (t *Tree[T]) Remove(box Box, item T) bool {
	if box.Dims() != t.opts.Dims {
		return false
	}
	leaf, idx := t.findLeaf(t.root, box, item.Key())
	if leaf == NoNode {
		return false
	}

	entries := t.nodes[leaf].entries
	t.nodes[leaf].entries = append(entries[:idx], entries[idx+1:]...)
	t.size--
	t.labeled = false

	t.condense(leaf)
	t.debugCheck()
	return true
}

// condense walks from leaf to the root. Nodes left below the minimum fanout
// are unlinked and their records queued; every other node on the path is
// re-tightened. Queued records are reinserted once the root is settled.
func (t *Tree[T]) condense(leaf NodeID) {
	var orphans []entry[T]

	n := leaf
	for n != t.root {
		p := t.nodes[n].parent
		if len(t.nodes[n].entries) < t.opts.MinEntries {
			i := t.childIndex(p, n)
			pe := t.nodes[p].entries
			t.nodes[p].entries = append(pe[:i], pe[i+1:]...)
			orphans = t.collect(n, orphans)
		} else {
			t.tighten(n)
			t.nodes[p].entries[t.childIndex(p, n)].box = t.nodes[n].box.Clone()
		}
		n = p
	}
	t.tighten(t.root)
	t.shrinkRoot()

	for _, e := range orphans {
		t.insertEntry(e, 0)
	}
}

// collect appends the leaf entries below n to dst and frees the subtree.
func (t *Tree[T]) collect(n NodeID, dst []entry[T]) []entry[T] {
	if t.nodes[n].leaf() {
		dst = append(dst, t.nodes[n].entries...)
	} else {
		for _, e := range t.nodes[n].entries {
			dst = t.collect(e.child, dst)
		}
	}
	t.release(n)
	return dst
}

// shrinkRoot removes internal roots with a single child and resets an
// internal root that lost every child to an empty leaf.
func (t *Tree[T]) shrinkRoot() {
	for {
		r := &t.nodes[t.root]
		if r.leaf() {
			return
		}
		switch len(r.entries) {
		case 0:
			r.level = 0
			r.box = Box{}
			return
		case 1:
			child := r.entries[0].child
			t.release(t.root)
			t.root = child
			t.nodes[child].parent = NoNode
		default:
			return
		}
	}
}
