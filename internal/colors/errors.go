package colors

import "github.com/pkg/errors"

// ErrExhausted indicates that every color is held by a live session.
var ErrExhausted = errors.New("color pool exhausted")

// ErrAlreadyAvailable indicates that a returned color was never taken.
var ErrAlreadyAvailable = errors.New("color already available")
