// internal/databridge/cursor.go
package databridge

import (
	"sync"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// cursor tracks the position of the single active iterator. Sources the
// iterator is not bound to always sit at offset 0.
type cursor struct {
	mu       sync.Mutex
	iterator schemas.Iterator
	position int
	// total is the row count walked by set iterators.
	total int
	// hold keeps the position on the next advance, because deleting the row
	// under the cursor shifts its successor into place.
	hold bool
}

func newCursor(it schemas.Iterator, total int) *cursor {
	c := &cursor{iterator: it, total: total}
	if r, ok := it.(schemas.RangeIterator); ok {
		c.position = r.Start
	}
	return c
}

// bound reports whether the iterator drives the cursor of source.
func (c *cursor) bound(source string) bool {
	return c.iterator != nil && c.iterator.Source() == source
}

func (c *cursor) offset(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound(source) {
		return 0
	}
	return c.position
}

func (c *cursor) isLast() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLastLocked()
}

func (c *cursor) isLastLocked() bool {
	switch it := c.iterator.(type) {
	case nil:
		return true
	case schemas.RangeIterator:
		return c.position+it.StepOrDefault() > it.End
	default:
		if c.hold {
			return c.position >= c.total
		}
		return c.position >= c.total-1
	}
}

func (c *cursor) next() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isLastLocked() {
		return
	}
	if c.hold {
		c.hold = false
		return
	}
	switch it := c.iterator.(type) {
	case schemas.RangeIterator:
		c.position += it.StepOrDefault()
	default:
		c.position++
	}
}

// deleted adjusts a set iterator after the row under it was removed.
func (c *cursor) deleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, isRange := c.iterator.(schemas.RangeIterator); isRange || c.iterator == nil {
		return
	}
	if c.total > 0 {
		c.total--
	}
	c.hold = true
}
