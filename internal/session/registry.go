// Package session tracks connected clients: their ids, connections and,
// once joined, their display name and color.
package session

import (
	"sort"
	"time"

	"realtime-board/internal/colors"
	"realtime-board/pkg/board"

	"github.com/pkg/errors"
)

// Conn pushes frames to exactly one client. Writes must not block.
type Conn interface {
	Write(msg []byte) error
	WriteBinary(msg []byte) error
}

// Session is the server-side state of one connected client.
type Session struct {
	ID          int
	Conn        Conn
	Name        string
	Color       string
	ConnectedAt time.Time
	JoinedAt    time.Time

	named bool
}

// Named reports whether the session has completed its join.
func (s *Session) Named() bool {
	return s.named
}

// Registry maps session ids to sessions. It is not safe for concurrent
// use; the hub owns it.
type Registry struct {
	nextID   int
	sessions map[int]*Session
	colors   *colors.Pool
	now      func() time.Time
}

// NewRegistry creates a registry drawing join colors from pool.
func NewRegistry(pool *colors.Pool) *Registry {
	return &Registry{
		sessions: make(map[int]*Session),
		colors:   pool,
		now:      time.Now,
	}
}

// Register binds conn to a fresh, unnamed session and returns its id.
func (r *Registry) Register(conn Conn) int {
	id := r.nextID
	r.nextID++
	r.sessions[id] = &Session{
		ID:          id,
		Conn:        conn,
		ConnectedAt: r.now(),
	}
	return id
}

// CompleteJoin names the session and assigns it a color. The name is
// HTML-escaped before it is stored. If no color is left the session stays
// unnamed and ErrNoColorAvailable is returned.
func (r *Registry) CompleteJoin(id int, rawName string) (*Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.named {
		return nil, ErrAlreadyNamed
	}
	color, err := r.colors.Take()
	if err != nil {
		if errors.Is(err, colors.ErrExhausted) {
			return nil, errors.Wrap(ErrNoColorAvailable, err.Error())
		}
		return nil, errors.Wrap(err, "take color failed")
	}
	s.Name = board.Escape(rawName)
	s.Color = color
	s.JoinedAt = r.now()
	s.named = true
	return s, nil
}

// Remove deletes the session and, if it was named, returns its color to
// the pool. Removing an absent id is a no-op.
func (r *Registry) Remove(id int) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	if s.named {
		// The pool only refuses colors it already holds; nothing to undo.
		_ = r.colors.Give(s.Color)
	}
	return s, true
}

// Get returns the session registered under id.
func (r *Registry) Get(id int) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// AllSessionIDs returns every registered id, named or not, in ascending order.
func (r *Registry) AllSessionIDs() []int {
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Members returns the named sessions in ascending id order. These are the
// recipients of every broadcast.
func (r *Registry) Members() []*Session {
	members := make([]*Session, 0, len(r.sessions))
	for _, id := range r.AllSessionIDs() {
		if s := r.sessions[id]; s.named {
			members = append(members, s)
		}
	}
	return members
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// NamedLen returns the number of named sessions.
func (r *Registry) NamedLen() int {
	n := 0
	for _, s := range r.sessions {
		if s.named {
			n++
		}
	}
	return n
}
