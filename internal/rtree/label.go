package rtree

// ScoreFunc scores a single item.
type ScoreFunc[T Keyed] func(T) float64

// SummaryFunc condenses the scores of a node's children into one value. It
// may reorder its argument.
type SummaryFunc func([]float64) float64

// ScoredNode is the label of one node after Relabel.
type ScoredNode struct {
	ID    NodeID  `json:"id"`
	Level int     `json:"level"`
	Score float64 `json:"score"` // summary of child scores, a ranking heuristic
	Bound float64 `json:"bound"` // highest record score below the node, safe for pruning
}

// Relabel recomputes every label bottom-up. Leaf entries get score(item);
// each node gets summarize over its children's scores and, separately, the
// maximum record score beneath it as its bound. Empty nodes are labeled 0.
func (t *Tree[T]) Relabel(score ScoreFunc[T], summarize SummaryFunc) {
	buf := make([]float64, 0, t.opts.MaxEntries+1)
	t.relabel(t.root, score, summarize, buf)
	t.labeled = true
}

func (t *Tree[T]) relabel(n NodeID, score ScoreFunc[T], summarize SummaryFunc, buf []float64) {
	nd := &t.nodes[n]
	if len(nd.entries) == 0 {
		nd.score, nd.bound = 0, 0
		return
	}

	if !nd.leaf() {
		for _, e := range nd.entries {
			t.relabel(e.child, score, summarize, buf)
		}
	}

	scores := buf[:0]
	var bound float64
	for i := range nd.entries {
		e := &nd.entries[i]
		var s, b float64
		if nd.leaf() {
			e.score = score(e.item)
			s, b = e.score, e.score
		} else {
			s, b = t.nodes[e.child].score, t.nodes[e.child].bound
		}
		scores = append(scores, s)
		if i == 0 || b > bound {
			bound = b
		}
	}
	nd.bound = bound
	nd.score = summarize(scores)
}

// ScoredNodes returns the labels of all live nodes ordered by id. It returns
// nil when the tree has changed since the last Relabel.
func (t *Tree[T]) ScoredNodes() []ScoredNode {
	if !t.labeled {
		return nil
	}
	out := make([]ScoredNode, 0, len(t.nodes)-len(t.free))
	for id := range t.nodes {
		nd := &t.nodes[id]
		if !nd.live {
			continue
		}
		out = append(out, ScoredNode{ID: NodeID(id), Level: nd.level, Score: nd.score, Bound: nd.bound})
	}
	return out
}
