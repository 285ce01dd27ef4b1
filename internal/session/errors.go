package session

import "github.com/pkg/errors"

var ErrSessionNotFound = errors.New("session not found")
var ErrAlreadyNamed = errors.New("session already named")
var ErrNoColorAvailable = errors.New("no color available")
