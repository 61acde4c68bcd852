package model

// State holds the current and the shadow copy of cached derived
// quantities. Begin snapshots the current value into the shadow,
// Rollback swaps them back, Commit keeps the current one.
type State[T any] struct {
	cur      *T
	shadow   *T
	copyInto func(dst, src *T)
	stored   bool
}

// NewState creates a new state. copyInto must deep-copy src into dst
// reusing dst storage where possible.
func NewState[T any](init T, copyInto func(dst, src *T)) *State[T] {
	var shadow T
	copyInto(&shadow, &init)
	return &State[T]{
		cur:      &init,
		shadow:   &shadow,
		copyInto: copyInto,
	}
}

// Get returns the current value.
func (s *State[T]) Get() *T {
	return s.cur
}

// Begin stores the current value.
func (s *State[T]) Begin() {
	s.copyInto(s.shadow, s.cur)
	s.stored = true
}

// Commit accepts the current value.
func (s *State[T]) Commit() {
	s.stored = false
}

// Rollback brings back the value saved by Begin. Rollback without
// Begin panics.
func (s *State[T]) Rollback() {
	if !s.stored {
		panic("rollback without begin")
	}
	s.cur, s.shadow = s.shadow, s.cur
	s.stored = false
}

// CopyFloats copies src into dst, reallocating dst if needed.
func CopyFloats(dst, src []float64) []float64 {
	if cap(dst) < len(src) {
		dst = make([]float64, len(src))
	}
	dst = dst[:len(src)]
	copy(dst, src)
	return dst
}
