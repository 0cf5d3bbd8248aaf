package registry

import "go.uber.org/atomic"

// idCounter mints process-wide monotonic 64-bit identifiers, satisfying
// spec.md §3 invariant 6: "Listener ids and connection ids are globally
// unique for the lifetime of the process."
type idCounter struct {
	next atomic.Uint64
}

func (c *idCounter) next_() uint64 {
	// Start at 1 so the zero value never collides with a minted id.
	return c.next.Add(1)
}
