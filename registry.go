package quicbridge

import "sync"

// streamRegistry maps the opaque context tokens handed to the engine back
// to their streams. Tokens are registered at stream creation and revoked
// at disposal, so a stale engine event resolves to nothing instead of a
// dangling stream.
type streamRegistry struct {
	mu      sync.RWMutex
	next    uint64
	streams map[uint64]*Stream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{
		streams: make(map[uint64]*Stream),
	}
}

func (r *streamRegistry) register(s *Stream) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	token := r.next
	r.streams[token] = s
	return token
}

func (r *streamRegistry) lookup(token uint64) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streams[token]
	return s, ok
}

func (r *streamRegistry) deregister(token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.streams, token)
}
