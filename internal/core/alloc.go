package core

// Allocator is the pluggable allocation capability carried in context and
// node options. The runtime routes payload staging buffers through it so
// deployments can pool them and tests can inject allocation failures; a nil
// return from Allocate is reported to callers as ErrBadAlloc and leaves the
// failed operation without side effects.
type Allocator interface {
	// Allocate returns a buffer of length n, or nil on failure.
	Allocate(n int) []byte

	// Release returns a buffer obtained from Allocate. Implementations
	// may ignore it.
	Release(buf []byte)
}

type heapAllocator struct{}

func (heapAllocator) Allocate(n int) []byte { return make([]byte, n) }
func (heapAllocator) Release([]byte)        {}

// DefaultAllocator returns the plain heap-backed allocator.
func DefaultAllocator() Allocator { return heapAllocator{} }
