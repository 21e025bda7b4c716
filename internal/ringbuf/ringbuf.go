// Package ringbuf implements a fixed-capacity single-producer,
// single-consumer queue of audio blocks.
//
// All storage is allocated in New. Push and pop never allocate, never lock
// and never block, so both ends can run on real-time audio callbacks. Exactly
// one goroutine (or callback thread) may produce and exactly one may consume
// for the lifetime of a Ring; build a new Ring for every session.
package ringbuf

import "sync/atomic"

const cacheLine = 64

// Ring is a queue of fixed-length []float32 blocks.
type Ring struct {
	// head is the next slot to read, written only by the consumer.
	head atomic.Uint64
	_    [cacheLine - 8]byte
	// tail is the next slot to write, written only by the producer.
	tail atomic.Uint64
	_    [cacheLine - 8]byte

	mask     uint64
	blockLen int
	slots    [][]float32
}

// New creates a ring with at least slots blocks of blockLen samples each.
// The slot count is rounded up to a power of two.
func New(slots, blockLen int) *Ring {
	if slots < 1 {
		slots = 1
	}
	if blockLen < 1 {
		blockLen = 1
	}
	n := 1
	for n < slots {
		n <<= 1
	}
	backing := make([]float32, n*blockLen)
	r := &Ring{
		mask:     uint64(n - 1),
		blockLen: blockLen,
		slots:    make([][]float32, n),
	}
	for i := range r.slots {
		r.slots[i] = backing[i*blockLen : (i+1)*blockLen : (i+1)*blockLen]
	}
	return r
}

// Cap returns the number of slots.
func (r *Ring) Cap() int { return len(r.slots) }

// BlockLen returns the number of samples per block.
func (r *Ring) BlockLen() int { return r.blockLen }

// Len returns the number of queued blocks. It is exact when called from
// either end and approximate elsewhere.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Reserve returns the next free slot for the producer to fill in place, or
// nil when the ring is full. The slot is published by Commit.
func (r *Ring) Reserve() []float32 {
	t := r.tail.Load()
	if t-r.head.Load() == uint64(len(r.slots)) {
		return nil
	}
	return r.slots[t&r.mask]
}

// Commit publishes the slot returned by the last successful Reserve.
func (r *Ring) Commit() {
	r.tail.Add(1)
}

// TryPush copies block into the ring. It returns false, leaving the queued
// blocks untouched, when the ring is full. Samples beyond BlockLen are
// ignored and a short block is zero padded.
func (r *Ring) TryPush(block []float32) bool {
	dst := r.Reserve()
	if dst == nil {
		return false
	}
	n := copy(dst, block)
	clear(dst[n:])
	r.Commit()
	return true
}

// Front returns the oldest queued block for the consumer to read in place,
// or nil when the ring is empty. The slot stays owned by the consumer until
// Release.
func (r *Ring) Front() []float32 {
	h := r.head.Load()
	if h == r.tail.Load() {
		return nil
	}
	return r.slots[h&r.mask]
}

// Release hands the slot returned by the last Front back to the producer.
func (r *Ring) Release() {
	r.head.Add(1)
}

// TryPop copies the oldest block into dst and removes it. It returns false
// when the ring is empty.
func (r *Ring) TryPop(dst []float32) bool {
	src := r.Front()
	if src == nil {
		return false
	}
	copy(dst, src)
	r.Release()
	return true
}

// Discard drops the oldest block. It returns false when the ring is empty.
func (r *Ring) Discard() bool {
	if r.Front() == nil {
		return false
	}
	r.Release()
	return true
}
