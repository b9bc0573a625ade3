package operation

import (
	"slices"
	"time"
)

// Chain is the undo/redo log of one workspace. CurrentIndex points at the
// last applied operation; -1 means nothing to undo.
type Chain struct {
	WorkspaceID     string       `json:"workspaceId"`
	Operations      []*Operation `json:"operations"`
	CurrentIndex    int          `json:"currentIndex"`
	MaxLength       int          `json:"maxLength"`
	HeadOperationID string       `json:"headOperationId"`
	TotalOperations int          `json:"totalOperations"`
	CreatedAt       time.Time    `json:"createdAt"`
	LastModified    time.Time    `json:"lastModified"`
}

func newChain(workspaceID string, maxLength int) *Chain {
	now := time.Now()
	return &Chain{
		WorkspaceID:  workspaceID,
		CurrentIndex: -1,
		MaxLength:    maxLength,
		CreatedAt:    now,
		LastModified: now,
	}
}

// Len returns the number of operations in the chain.
func (c *Chain) Len() int {
	return len(c.Operations)
}

// Current returns the operation at the cursor, or nil.
func (c *Chain) Current() *Operation {
	return c.At(c.CurrentIndex)
}

// At returns the operation at i, or nil when i is out of range.
func (c *Chain) At(i int) *Operation {
	if i < 0 || i >= len(c.Operations) {
		return nil
	}
	return c.Operations[i]
}

// Clone returns a deep copy of the chain.
func (c *Chain) Clone() *Chain {
	cp := *c
	cp.Operations = make([]*Operation, len(c.Operations))
	for i, op := range c.Operations {
		cp.Operations[i] = op.Clone()
	}
	return &cp
}

// shallowCopy copies the chain without copying the operations.
func (c *Chain) shallowCopy() *Chain {
	cp := *c
	cp.Operations = append([]*Operation(nil), c.Operations...)
	return &cp
}

func (c *Chain) ids() []string {
	ids := make([]string, len(c.Operations))
	for i, op := range c.Operations {
		ids[i] = op.ID
	}
	return ids
}

// push appends op at the cursor. Operations after the cursor (undone and
// not redone) are dropped first, then the oldest entries past MaxLength.
// It returns the operations removed from the chain.
func (c *Chain) push(op *Operation) []*Operation {
	var removed []*Operation
	if c.CurrentIndex < len(c.Operations)-1 {
		removed = append(removed, c.Operations[c.CurrentIndex+1:]...)
		c.Operations = c.Operations[:c.CurrentIndex+1]
	}

	c.Operations = append(c.Operations, op)
	c.CurrentIndex = len(c.Operations) - 1

	for c.MaxLength > 0 && len(c.Operations) > c.MaxLength {
		removed = append(removed, c.Operations[0])
		c.Operations = c.Operations[1:]
		c.CurrentIndex = max(c.CurrentIndex-1, -1)
	}

	c.HeadOperationID = op.ID
	c.TotalOperations++
	c.LastModified = time.Now()
	return removed
}

// traverse walks the chain per opts. Entries filtered out still count
// towards MaxDepth.
func (c *Chain) traverse(opts TraversalOptions) []*Operation {
	start, step := c.CurrentIndex, -1
	if opts.Direction == Forward {
		start, step = 0, 1
	}
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = len(c.Operations)
	}

	var out []*Operation
	for i, n := start, 0; n < depth && i >= 0 && i < len(c.Operations); i, n = i+step, n+1 {
		op := c.Operations[i]
		if !opts.IncludeNonReversible && !op.Reversible {
			continue
		}
		if len(opts.FilterTypes) > 0 && !slices.Contains(opts.FilterTypes, op.Type) {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Counts returns the number of reversible operations at or before the
// cursor and after it.
func (c *Chain) Counts() (undoable, redoable int) {
	for i, op := range c.Operations {
		if !op.Reversible {
			continue
		}
		if i <= c.CurrentIndex {
			undoable++
		} else {
			redoable++
		}
	}
	return undoable, redoable
}
