package dboard

import "errors"

// Local validation failures. Detected before any remote call is issued;
// compare with errors.Is. Remote-call failures are whatever the attached
// caller returns, propagated unchanged.
var (
	ErrInvalidChannel   = errors.New("dboard: channel index out of range")
	ErrInvalidDirection = errors.New("dboard: invalid direction")
	ErrNoSession        = errors.New("dboard: remote session not attached")
	ErrSessionAttached  = errors.New("dboard: remote session already attached")
)
