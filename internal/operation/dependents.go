package operation

import (
	"context"
	"errors"

	"zcu/internal/errdefs"
)

// FindDependentOperations returns every operation reachable through child
// links from id, breadth first. Each operation is visited once, so a cycle
// in the links cannot loop.
func (t *Tracker) FindDependentOperations(ctx context.Context, id string) ([]*Operation, error) {
	root, err := t.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{id: true}
	queue := append([]string{}, root.ChildOperationIDs...)
	var out []*Operation

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true

		op, err := t.GetOperation(ctx, next)
		if errors.Is(err, errdefs.ErrNotFound) {
			// Evicted children leave dangling ids
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, op)
		queue = append(queue, op.ChildOperationIDs...)
	}
	return out, nil
}
