package session

import "sync/atomic"

// IDSource hands out session identities. Each accepted connection receives
// a fresh value, so no two live sessions share a key.
type IDSource struct {
	last atomic.Uint64
}

// NewIDSource creates an IDSource whose first Next returns start+1.
func NewIDSource(start uint64) *IDSource {
	src := &IDSource{}
	src.last.Store(start)
	return src
}

// Next returns the next identity. It is safe for concurrent use.
func (src *IDSource) Next() uint64 {
	return src.last.Add(1)
}
