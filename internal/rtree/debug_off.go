//go:build !rtreedebug

package rtree

func (t *Tree[T]) debugCheck() {}
