package health

import (
	"context"
	"fmt"
)

// StructureChecker is satisfied by *venue.Index.
type StructureChecker interface {
	Check() error
}

// IndexChecker reports the in-memory index as unhealthy when its tree
// violates a structural invariant.
type IndexChecker struct {
	index StructureChecker
}

// NewIndexChecker creates a new index health checker.
func NewIndexChecker(index StructureChecker) *IndexChecker {
	return &IndexChecker{index: index}
}

// HealthCheck validates the tree. The walk is not interruptible, so ctx is
// only consulted before it starts.
func (c *IndexChecker) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.index.Check(); err != nil {
		return fmt.Errorf("index check failed: %w", err)
	}
	return nil
}
