package device

import "sync/atomic"

// Field is a live-state value that starts absent. Readers never block;
// writers either advance it (ingestion) or fill it while absent (backfill).
type Field[T any] struct {
	p atomic.Pointer[T]
}

// Load returns the current value or nil when absent.
func (f *Field[T]) Load() *T {
	return f.p.Load()
}

// Fill stores v only if the field is absent and returns the value the field
// holds afterwards. A value written concurrently by ingestion wins.
func (f *Field[T]) Fill(v *T) *T {
	if f.p.CompareAndSwap(nil, v) {
		return v
	}
	return f.p.Load()
}

// Advance stores v unless the held value is newer according to older(v, held).
func (f *Field[T]) Advance(v *T, older func(v, held *T) bool) bool {
	for {
		held := f.p.Load()
		if held != nil && older(v, held) {
			return false
		}
		if f.p.CompareAndSwap(held, v) {
			return true
		}
	}
}
