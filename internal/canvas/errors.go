package canvas

import "github.com/pkg/errors"

// ErrNoWaiters indicates that a snapshot arrived while nobody was waiting.
var ErrNoWaiters = errors.New("no sessions waiting for canvas")

// ErrUnsolicitedSnapshot indicates that, in strict mode, a snapshot came
// from a session that was never asked for one.
var ErrUnsolicitedSnapshot = errors.New("canvas snapshot from unrequested session")
