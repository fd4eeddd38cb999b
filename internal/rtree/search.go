package rtree

// Hit is a leaf entry reported to a Visitor.
type Hit[T Keyed] struct {
	Item  T
	Box   Box // shared with the tree; do not modify
	Score float64 // record score from the last Relabel, 0 when unlabeled
	Node  NodeID  // leaf holding the entry
}

// Visitor receives each matching entry. Returning false asks the search to
// stop; the request is honoured when SearchOptions.EarlyStop is set.
type Visitor[T Keyed] func(Hit[T]) bool

// SearchOptions controls a Search.
type SearchOptions struct {
	// EarlyStop lets the visitor halt the traversal by returning false.
	// Without it every match is visited and recorded.
	EarlyStop bool
	// Collect gathers accepted items into SearchResult.Items.
	Collect bool
	// Trace records the id of every node entered, in visiting order.
	Trace bool
	// Prune skips subtrees whose admissible bound is below MinScore. It
	// has no effect on an unlabeled tree.
	Prune    bool
	MinScore float64
}

// SearchResult summarizes a Search.
type SearchResult[T Keyed] struct {
	Items   []T      // visited items except one that stopped the search, when collected
	Path    []NodeID // nodes entered, when traced
	Visited int      // leaf entries handed to the visitor
	Pruned  int      // subtrees skipped by score
	Stopped bool     // the visitor ended the search
}

// Search visits every entry whose box intersects box. Internal nodes are
// entered only when their box intersects the query. The visitor must not
// modify the tree.
func (t *Tree[T]) Search(box Box, opts SearchOptions, visit Visitor[T]) SearchResult[T] {
	var res SearchResult[T]
	if box.Dims() != t.opts.Dims || t.size == 0 {
		return res
	}
	s := searcher[T]{
		tree:  t,
		box:   box,
		opts:  opts,
		visit: visit,
		prune: opts.Prune && t.labeled,
		res:   &res,
	}
	s.node(t.root)
	return res
}

// Collect returns every item whose box intersects box.
func (t *Tree[T]) Collect(box Box) []T {
	return t.Search(box, SearchOptions{Collect: true}, nil).Items
}

type searcher[T Keyed] struct {
	tree  *Tree[T]
	box   Box
	opts  SearchOptions
	visit Visitor[T]
	prune bool
	res   *SearchResult[T]
}

// node returns false once the visitor has stopped the search.
func (s *searcher[T]) node(n NodeID) bool {
	if s.opts.Trace {
		s.res.Path = append(s.res.Path, n)
	}
	nd := &s.tree.nodes[n]
	if nd.leaf() {
		for i := range nd.entries {
			e := &nd.entries[i]
			if !e.box.Intersects(s.box) {
				continue
			}
			if !s.emit(n, e) {
				return false
			}
		}
		return true
	}
	for _, e := range nd.entries {
		if !e.box.Intersects(s.box) {
			continue
		}
		if s.prune && s.tree.nodes[e.child].bound < s.opts.MinScore {
			s.res.Pruned++
			continue
		}
		if !s.node(e.child) {
			return false
		}
	}
	return true
}

func (s *searcher[T]) emit(leaf NodeID, e *entry[T]) bool {
	s.res.Visited++
	var score float64
	if s.tree.labeled {
		score = e.score
	}
	keep := true
	if s.visit != nil {
		keep = s.visit(Hit[T]{Item: e.item, Box: e.box, Score: score, Node: leaf})
	}
	if s.opts.Collect && (keep || !s.opts.EarlyStop) {
		s.res.Items = append(s.res.Items, e.item)
	}
	if !keep && s.opts.EarlyStop {
		s.res.Stopped = true
		return false
	}
	return true
}
