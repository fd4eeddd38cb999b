// Package rtree implements a dimension-generic R-tree over point and box
// entries, with per-node score labels that allow ranked searches to skip
// subtrees.
//
// Nodes live in an arena owned by the Tree and refer to one another by
// NodeID, so splits and removals never leave dangling references. A node is
// a leaf when its level is 0; leaf entries carry items, internal entries
// carry child node ids.
//
// Insertion follows Guttman's ChooseLeaf with the quadratic split. Removal
// condenses the path to the root and reinserts the records of every node
// that fell below the minimum fanout.
//
// Basic Usage:
//
//	tree, err := rtree.New[venue](rtree.Options{Dims: 2})
//	if err != nil {
//		return err
//	}
//	tree.Insert(rtree.Point(121.5, 25.02), v)
//
//	tree.Search(box, rtree.SearchOptions{EarlyStop: true}, func(h rtree.Hit[venue]) bool {
//		fmt.Println(h.Item)
//		return true
//	})
//
// A Tree is not safe for concurrent use; callers serialize access.
package rtree
