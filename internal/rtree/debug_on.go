//go:build rtreedebug

package rtree

// debugCheck panics when a mutation leaves the tree inconsistent.
func (t *Tree[T]) debugCheck() {
	if err := t.Check(); err != nil {
		panic(err)
	}
}
