package store

// Overlay writes a typed view back onto its raw document.
//
// The result is a copy of raw with the fields of prev removed and the fields
// of next set. prev is the encoding of the typed view as it was read, so
// fields the view dropped disappear, while fields of raw that the view does
// not know about are carried over untouched.
func Overlay[T any](raw, prev, next map[string]T) map[string]T {
	out := make(map[string]T, len(raw)+len(next))
	for k, v := range raw {
		out[k] = v
	}
	for k := range prev {
		delete(out, k)
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}
