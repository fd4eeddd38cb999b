package rtree

import "math"

// split divides the overflowing node n with Guttman's quadratic algorithm.
// n keeps the first group and the returned sibling, at the same level,
// receives the second.
func (t *Tree[T]) split(n NodeID) NodeID {
	entries := t.nodes[n].entries
	level := t.nodes[n].level
	minFill := t.opts.MinEntries

	s1, s2 := pickSeeds(entries)

	g1 := make([]entry[T], 0, t.opts.MaxEntries+1)
	g2 := make([]entry[T], 0, t.opts.MaxEntries+1)
	g1 = append(g1, entries[s1])
	g2 = append(g2, entries[s2])
	b1 := entries[s1].box.Clone()
	b2 := entries[s2].box.Clone()

	rest := make([]entry[T], 0, len(entries)-2)
	for i, e := range entries {
		if i != s1 && i != s2 {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		// One group needs every remaining entry to reach the minimum.
		if len(g1)+len(rest) <= minFill {
			for _, e := range rest {
				g1 = append(g1, e)
				b1.extend(e.box)
			}
			break
		}
		if len(g2)+len(rest) <= minFill {
			for _, e := range rest {
				g2 = append(g2, e)
				b2.extend(e.box)
			}
			break
		}

		i := pickNext(rest, b1, b2)
		e := rest[i]
		rest[i] = rest[len(rest)-1]
		rest = rest[:len(rest)-1]

		if preferFirst(e.box, b1, b2, len(g1), len(g2)) {
			g1 = append(g1, e)
			b1.extend(e.box)
		} else {
			g2 = append(g2, e)
			b2.extend(e.box)
		}
	}

	sibling := t.alloc(level)
	t.nodes[n].entries = g1
	t.nodes[n].box = b1
	t.nodes[sibling].entries = g2
	t.nodes[sibling].box = b2
	if level > 0 {
		for _, e := range g2 {
			t.nodes[e.child].parent = sibling
		}
	}
	return sibling
}

// pickSeeds returns the pair of entries that would waste the most area if
// placed in the same node. Point entries all have zero area, so equal waste
// is broken by the larger combined margin.
func pickSeeds[T Keyed](entries []entry[T]) (int, int) {
	s1, s2 := 0, 1
	bestWaste := math.Inf(-1)
	bestMargin := math.Inf(-1)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i].box, entries[j].box
			waste := a.unionArea(b) - a.Area() - b.Area()
			margin := a.unionMargin(b)
			if waste > bestWaste || (waste == bestWaste && margin > bestMargin) {
				s1, s2 = i, j
				bestWaste, bestMargin = waste, margin
			}
		}
	}
	return s1, s2
}

// pickNext returns the index of the entry with the strongest preference for
// one group over the other.
func pickNext[T Keyed](rest []entry[T], b1, b2 Box) int {
	best := 0
	bestDiff := math.Inf(-1)
	for i, e := range rest {
		d1 := b1.enlargement(e.box)
		d2 := b2.enlargement(e.box)
		if diff := math.Abs(d1 - d2); diff > bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// preferFirst decides the group for box: least enlargement, then smaller
// area, then fewer entries, then the first group. With zero-area boxes the
// margin growth stands in for area growth.
func preferFirst(box, b1, b2 Box, n1, n2 int) bool {
	d1, d2 := b1.enlargement(box), b2.enlargement(box)
	if d1 != d2 {
		return d1 < d2
	}
	m1, m2 := b1.unionMargin(box)-b1.Margin(), b2.unionMargin(box)-b2.Margin()
	if m1 != m2 {
		return m1 < m2
	}
	if a1, a2 := b1.Area(), b2.Area(); a1 != a2 {
		return a1 < a2
	}
	return n1 <= n2
}
