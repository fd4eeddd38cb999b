package rtree

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/dhconnelly/rtreego"
)

type oraclePoint struct {
	id   int64
	rect rtreego.Rect
}

func (p *oraclePoint) Bounds() rtreego.Rect { return p.rect }

// TestSearch_MatchesRtreego cross-checks results against an independent
// R-tree implementation across interleaved inserts and removals.
func TestSearch_MatchesRtreego(t *testing.T) {
	rng := rand.New(rand.NewPCG(31, 32))
	tree := mustTree(t, Options{Dims: 2, MaxEntries: 8, MinEntries: 4})
	oracle := rtreego.NewTree(2, 4, 8)

	live := map[int64]*oraclePoint{}
	boxes := map[int64]Box{}
	nextID := int64(1)

	for round := 0; round < 40; round++ {
		for i := 0; i < 25; i++ {
			x, y := rng.Float64()*100, rng.Float64()*100
			p := &oraclePoint{id: nextID, rect: rtreego.Point{x, y}.ToRect(1e-9)}
			tree.Insert(Point(x, y), item{id: nextID})
			oracle.Insert(p)
			live[nextID] = p
			boxes[nextID] = Point(x, y)
			nextID++
		}
		for id, p := range live {
			if rng.IntN(4) != 0 {
				continue
			}
			if !tree.Remove(boxes[id], item{id: id}) {
				t.Fatalf("round %d: remove %d failed", round, id)
			}
			oracle.Delete(p)
			delete(live, id)
			delete(boxes, id)
		}
		if err := tree.Check(); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}

		for q := 0; q < 10; q++ {
			x, y := rng.Float64()*90, rng.Float64()*90
			w, h := rng.Float64()*30+0.5, rng.Float64()*30+0.5
			rect, err := rtreego.NewRect(rtreego.Point{x, y}, []float64{w, h})
			if err != nil {
				t.Fatal(err)
			}

			var want []int64
			for _, s := range oracle.SearchIntersect(rect) {
				want = append(want, s.(*oraclePoint).id)
			}
			slices.Sort(want)

			got := keys(tree.Collect(Box{Min: []float64{x, y}, Max: []float64{x + w, y + h}}))
			if !slices.Equal(got, want) {
				t.Fatalf("round %d query %d: got %d ids, oracle %d", round, q, len(got), len(want))
			}
		}
	}
	if tree.Len() != oracle.Size() {
		t.Errorf("Len = %d, oracle size %d", tree.Len(), oracle.Size())
	}
}
