package format

// Deref returns *p, or fallback when p is nil. Optional provider fields decode
// into pointers.
func Deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
