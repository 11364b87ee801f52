package common

// Coalesce picks the first value that is not the zero value of T, for example the first
// non-empty name among several candidates. It returns the zero value when every candidate
// is zero.
//
// Parameters:
//   - values: the candidates in order of preference
//
// Returns:
//   - T: the first non-zero candidate
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// ValueOr dereferences an optional field, returning fallback when it is absent. Asset
// formats mark omitted properties with nil pointers so that a present zero differs from
// a missing value.
//
// Parameters:
//   - p: the optional value
//   - fallback: the value used when p is nil
//
// Returns:
//   - T: *p, or fallback
func ValueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
