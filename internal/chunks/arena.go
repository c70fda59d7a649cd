package chunks

import (
	"github.com/apache/arrow/go/v12/arrow/memory"
)

// arena is the allocation scope for one chunk's decoded buffers. All
// buffers behind a chunk's record batches come from its arena and are
// accounted for until the chunk is released.
type arena struct {
	alloc *memory.CheckedAllocator
}

func newArena() *arena {
	return &arena{alloc: memory.NewCheckedAllocator(memory.NewGoAllocator())}
}

// Allocator returns the allocator decoded buffers are drawn from.
func (a *arena) Allocator() memory.Allocator {
	return a.alloc
}

// OutstandingBytes returns the number of bytes still allocated from the
// arena. Zero after every owning record has been released.
func (a *arena) OutstandingBytes() int {
	return a.alloc.CurrentAlloc()
}
