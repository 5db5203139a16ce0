package ptrs

// Ptr returns a pointer to a copy of val; handy for optional fields in requests and tests.
func Ptr[T any](val T) *T {
	return &val
}

// Deref returns the value behind p, or def when p is nil.
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
