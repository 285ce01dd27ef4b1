// Package colors implements the pool of identity colors handed out to
// joining sessions.
package colors

// Default is the color set used when none is configured.
var Default = []string{"red", "green", "blue", "magenta", "purple", "plum", "orange"}

// Pool is an ordered set of available colors. Take removes from the head,
// Give appends to the tail. A Pool is not safe for concurrent use; the hub
// owns it.
type Pool struct {
	available []string
	inPool    map[string]bool
}

// NewPool creates a pool holding the given colors in order. Duplicates are
// collapsed so a color is never handed to two sessions at once.
func NewPool(colors ...string) *Pool {
	p := &Pool{
		available: make([]string, 0, len(colors)),
		inPool:    make(map[string]bool, len(colors)),
	}
	for _, c := range colors {
		if c == "" || p.inPool[c] {
			continue
		}
		p.available = append(p.available, c)
		p.inPool[c] = true
	}
	return p
}

// Take hands out the oldest available color.
func (p *Pool) Take() (string, error) {
	if len(p.available) == 0 {
		return "", ErrExhausted
	}
	c := p.available[0]
	p.available = p.available[1:]
	delete(p.inPool, c)
	return c, nil
}

// Give makes a color available again.
func (p *Pool) Give(color string) error {
	if p.inPool[color] {
		return ErrAlreadyAvailable
	}
	p.available = append(p.available, color)
	p.inPool[color] = true
	return nil
}

// Len returns the number of available colors.
func (p *Pool) Len() int {
	return len(p.available)
}

// Available returns a copy of the available colors in handout order.
func (p *Pool) Available() []string {
	out := make([]string, len(p.available))
	copy(out, p.available)
	return out
}
