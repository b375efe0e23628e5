package protocol

import "sync/atomic"

// Distance returns how far b is behind a, modulo 2^32. Sequence numbers must
// only ever be compared through it; a raw difference breaks at wraparound.
func Distance(a, b uint32) uint32 {
	return a - b
}

// Before reports whether a precedes b, treating the counter as a circle and
// the shorter arc as the ordering.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// SeqGen is an atomic sequence number generator. It is shared between the
// capture loop and anything else that stamps packets, so all operations are
// atomic.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a generator whose first Next() returns first.
func NewSeqGen(first uint32) *SeqGen {
	g := &SeqGen{}
	g.val.Store(first - 1)
	return g
}

// Next returns the next sequence number, wrapping modulo 2^32.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}
