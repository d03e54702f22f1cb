// Package ringbuf implements a fixed-capacity, lock-free ring buffer for
// exactly one producer goroutine and one consumer goroutine.
//
// The producer side owns TryPush, PushSlice and IsFull; the consumer side owns
// TryPop, PopSlice and Clear. Len, Cap and IsEmpty may be called from either
// side. The ring never discards an item on its own: a push into a full ring
// fails and leaves the item with the caller.
package ringbuf

import "sync/atomic"

// Ring is a single-producer/single-consumer queue of T.
type Ring[T any] struct {
	buf []T

	// read and write are monotonically increasing positions; the slot for a
	// position is pos % len(buf). write-read is the number of queued items.
	read  atomic.Uint64
	write atomic.Uint64
}

// New creates a ring that holds at most capacity items. A capacity below one
// is raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	n := r.queued()
	if n > uint64(len(r.buf)) {
		n = uint64(len(r.buf))
	}
	return int(n)
}

// queued returns write-read without clamping to the capacity.
func (r *Ring[T]) queued() uint64 {
	// read first: write never falls behind a previously observed read.
	rd := r.read.Load()
	return r.write.Load() - rd
}

// IsFull reports whether a push would fail.
func (r *Ring[T]) IsFull() bool {
	return r.Len() >= len(r.buf)
}

// IsEmpty reports whether a pop would fail.
func (r *Ring[T]) IsEmpty() bool {
	return r.Len() == 0
}

// TryPush appends v without blocking. It returns false when the ring is full,
// in which case the caller still owns v.
func (r *Ring[T]) TryPush(v T) bool {
	w := r.write.Load()
	if w-r.read.Load() >= uint64(len(r.buf)) {
		return false
	}
	r.buf[w%uint64(len(r.buf))] = v
	r.write.Store(w + 1)
	return true
}

// PushSlice appends as many items from vs as fit and returns how many were
// written.
func (r *Ring[T]) PushSlice(vs []T) int {
	w := r.write.Load()
	free := uint64(len(r.buf)) - (w - r.read.Load())
	n := uint64(len(vs))
	if n > free {
		n = free
	}
	size := uint64(len(r.buf))
	for i := uint64(0); i < n; i++ {
		r.buf[(w+i)%size] = vs[i]
	}
	r.write.Store(w + n)
	return int(n)
}

// TryPop removes the oldest item. The second result is false when the ring
// is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	rd := r.read.Load()
	if rd == r.write.Load() {
		return zero, false
	}
	slot := rd % uint64(len(r.buf))
	v := r.buf[slot]
	r.buf[slot] = zero
	r.read.Store(rd + 1)
	return v, true
}

// PopSlice moves up to len(dst) of the oldest items into dst and returns how
// many were moved.
func (r *Ring[T]) PopSlice(dst []T) int {
	var zero T
	rd := r.read.Load()
	avail := r.write.Load() - rd
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	size := uint64(len(r.buf))
	for i := uint64(0); i < n; i++ {
		slot := (rd + i) % size
		dst[i] = r.buf[slot]
		r.buf[slot] = zero
	}
	r.read.Store(rd + n)
	return int(n)
}

// Clear discards everything currently queued and returns the discarded
// items' count. Items pushed concurrently with Clear may survive it. Only the
// consumer may call Clear.
func (r *Ring[T]) Clear() int {
	n := 0
	for {
		if _, ok := r.TryPop(); !ok {
			return n
		}
		n++
	}
}

// Drain behaves like Clear but hands each discarded item to fn, so owners can
// release resources held by the items.
func (r *Ring[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := r.TryPop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}
