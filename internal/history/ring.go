// Package history keeps the most recent chat envelopes for replay to
// sessions that join later.
package history

import "realtime-board/pkg/board"

// DefaultSize is the number of envelopes kept when no size is configured.
const DefaultSize = 100

// Ring is a bounded FIFO of envelopes, oldest first. It is not safe for
// concurrent use.
type Ring struct {
	size    int
	entries []board.Envelope
}

// NewRing creates a ring holding at most size envelopes. A size below one
// falls back to DefaultSize.
func NewRing(size int) *Ring {
	if size < 1 {
		size = DefaultSize
	}
	return &Ring{
		size:    size,
		entries: make([]board.Envelope, 0, size),
	}
}

// Append adds env at the tail, evicting from the head past capacity.
func (r *Ring) Append(env board.Envelope) {
	r.entries = append(r.entries, env)
	if over := len(r.entries) - r.size; over > 0 {
		// Copy down so the backing array never grows past size+1.
		n := copy(r.entries, r.entries[over:])
		clear(r.entries[n:])
		r.entries = r.entries[:n]
	}
}

// Snapshot returns a copy of the retained envelopes, oldest first.
func (r *Ring) Snapshot() []board.Envelope {
	out := make([]board.Envelope, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Ring) Len() int { return len(r.entries) }

func (r *Ring) Cap() int { return r.size }
