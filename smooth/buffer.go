// Package smooth implements the lag-shift ensemble Kalman smoother
// drivers: the classical smoother, the single-iteration smoother and
// the iterative Gauss-Newton (IEnKS) smoother, each with optional
// multiple data assimilation.
package smooth

import "gonum.org/v1/gonum/mat"

// Buffer is the fixed-size ring of posterior ensemble slices carried
// across smoother cycles. Slices are ordered oldest to newest; pushing
// a new slice evicts and returns the oldest.
type Buffer struct {
	slices []*mat.Dense
	head   int
}

// NewBuffer returns a ring of n slices, each initialized to a copy of
// init.
func NewBuffer(n int, init *mat.Dense) *Buffer {
	rows, cols := init.Dims()
	b := &Buffer{slices: make([]*mat.Dense, n)}
	for i := range b.slices {
		b.slices[i] = mat.NewDense(rows, cols, nil)
		b.slices[i].Copy(init)
	}
	return b
}

// Len returns the number of slices in the ring.
func (b *Buffer) Len() int {
	return len(b.slices)
}

// At returns the i-th slice, oldest first. The returned matrix is the
// live slab: mutations re-analyze the stored posterior.
func (b *Buffer) At(i int) *mat.Dense {
	return b.slices[(b.head+i)%len(b.slices)]
}

// Push evicts the oldest slice, replacing it with a copy of e, and
// returns the evicted slice. Ownership of the returned matrix passes to
// the caller.
func (b *Buffer) Push(e *mat.Dense) *mat.Dense {
	rows, cols := e.Dims()
	old := b.slices[b.head]
	fresh := mat.NewDense(rows, cols, nil)
	fresh.Copy(e)
	b.slices[b.head] = fresh
	b.head = (b.head + 1) % len(b.slices)
	return old
}

// Do calls f on every slice, oldest first.
func (b *Buffer) Do(f func(i int, s *mat.Dense)) {
	for i := 0; i < len(b.slices); i++ {
		f(i, b.At(i))
	}
}

func clone(e *mat.Dense) *mat.Dense {
	rows, cols := e.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Copy(e)
	return out
}
