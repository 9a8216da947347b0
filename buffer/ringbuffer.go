// Package buffer provides the fixed-capacity sample ring used by the capture
// engine. Samples are single-precision floats written round-robin across the
// configured channels; once full, each push overwrites the oldest retained
// sample, which is the defined policy rather than an error. Read-back is by
// relative index counted backwards from the most recent write, so the
// wraparound arithmetic lives here and nowhere else.
package buffer

import "errors"

var (
	// ErrCapacity is returned by New when the requested capacity is not positive.
	ErrCapacity = errors.New("buffer: capacity must be > 0")
	// ErrIndex is returned by At for indices outside the retained range.
	ErrIndex = errors.New("buffer: relative index out of range")
)

// Ring is a fixed-capacity circular buffer of float32 samples with
// overwrite-on-full semantics. It is not internally synchronized; the capture
// engine serializes access under its own lock so the tick path stays
// allocation-free.
type Ring struct {
	items  []float32
	cursor int // next write position
	count  int // retained items, capped at len(items)
}

// New allocates a ring with the given capacity in items. The backing store is
// bound once here; Push and Reset never allocate afterwards.
func New(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	return &Ring{items: make([]float32, capacity)}, nil
}

// Reset logically empties the ring. Only the cursor and fill count are
// cleared; backing memory keeps its previous contents. Idempotent.
func (r *Ring) Reset() {
	r.cursor = 0
	r.count = 0
}

// Push writes v at the cursor and advances it modulo capacity. Once the ring
// is full each push overwrites the oldest retained sample.
func (r *Ring) Push(v float32) {
	r.items[r.cursor] = v
	r.cursor++
	if r.cursor == len(r.items) {
		r.cursor = 0
	}
	if r.count < len(r.items) {
		r.count++
	}
}

// At reads back a sample by relative index. The index is an offset from one
// past the most recent write: -1 is the most recently pushed sample and
// -Cap() the oldest still retained. Indices >= 0 or older than the retained
// range are contract violations and return ErrIndex.
func (r *Ring) At(idx int) (float32, error) {
	if idx >= 0 || idx < -r.count {
		return 0, ErrIndex
	}
	pos := r.cursor + idx
	if pos < 0 {
		pos += len(r.items)
	}
	return r.items[pos], nil
}

// Len reports the number of samples currently retained.
func (r *Ring) Len() int {
	return r.count
}

// Cap reports the fixed capacity in items.
func (r *Ring) Cap() int {
	return len(r.items)
}
