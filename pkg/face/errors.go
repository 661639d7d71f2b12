package face

import "errors"

var (
	ErrFaceClosed     = errors.New("face: closed")
	ErrFrameTooLarge  = errors.New("face: frame too large")
	ErrBadFrame       = errors.New("face: malformed frame")
	ErrRegisterFailed = errors.New("face: prefix registration failed")
	ErrLoopStopped    = errors.New("face: event loop stopped")
)
