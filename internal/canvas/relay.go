// Package canvas tracks the canvas handshake: which sessions wait for a
// snapshot and which sessions were asked to provide one. Snapshots are
// never stored; the hub relays them the moment they arrive.
package canvas

// Relay is the canvas wait set. It is not safe for concurrent use; the hub
// owns it.
//
// By default any binary frame satisfies every pending request, whoever
// sent it. With strict set, only a session that was asked may answer.
type Relay struct {
	strict      bool
	skipWaiting bool
	waiting     []int
	sources     map[int]bool
	generation  uint64
}

// NewRelay creates an idle relay.
func NewRelay(strict bool) *Relay {
	return &Relay{
		strict:  strict,
		sources: make(map[int]bool),
	}
}

// SetSkipWaiting makes PickSource pass over sessions that still wait for
// their own snapshot, as long as someone else is left to ask.
func (r *Relay) SetSkipWaiting(skip bool) {
	r.skipWaiting = skip
}

// PickSource chooses the session to ask for a snapshot on behalf of
// newcomer: the first member other than newcomer. members must be in
// ascending id order.
func (r *Relay) PickSource(members []int, newcomer int) (int, bool) {
	fallback, found := 0, false
	for _, id := range members {
		if id == newcomer {
			continue
		}
		if !r.skipWaiting || !r.IsWaiting(id) {
			return id, true
		}
		if !found {
			fallback, found = id, true
		}
	}
	return fallback, found
}

// Request records that newcomer waits for a snapshot asked from source.
// It returns the generation a timeout for this request must present to
// Expire.
func (r *Relay) Request(newcomer, source int) uint64 {
	if !r.IsWaiting(newcomer) {
		r.waiting = append(r.waiting, newcomer)
	}
	r.sources[source] = true
	r.generation++
	return r.generation
}

// Complete hands back every waiting session and clears the set.
func (r *Relay) Complete(from int) ([]int, error) {
	if len(r.waiting) == 0 {
		return nil, ErrNoWaiters
	}
	if r.strict && !r.sources[from] {
		return nil, ErrUnsolicitedSnapshot
	}
	return r.reset(), nil
}

// Expire clears the set if no request or completion happened since the
// request that returned generation. It returns the sessions that gave up.
func (r *Relay) Expire(generation uint64) []int {
	if generation != r.generation || len(r.waiting) == 0 {
		return nil
	}
	return r.reset()
}

// Forget drops a departed session from both the wait set and the sources.
func (r *Relay) Forget(id int) {
	delete(r.sources, id)
	for i, w := range r.waiting {
		if w == id {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			break
		}
	}
	if len(r.waiting) == 0 && len(r.sources) > 0 {
		r.reset()
	}
}

// IsWaiting reports whether id waits for a snapshot.
func (r *Relay) IsWaiting(id int) bool {
	for _, w := range r.waiting {
		if w == id {
			return true
		}
	}
	return false
}

// Waiting returns the waiting sessions in request order.
func (r *Relay) Waiting() []int {
	out := make([]int, len(r.waiting))
	copy(out, r.waiting)
	return out
}

// Pending reports whether anyone is waiting.
func (r *Relay) Pending() bool {
	return len(r.waiting) > 0
}

func (r *Relay) reset() []int {
	waiters := r.waiting
	r.waiting = nil
	r.sources = make(map[int]bool)
	r.generation++
	return waiters
}
