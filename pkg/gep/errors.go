package gep

import "errors"

var (
	ErrScheduleNotFound  = errors.New("gep: schedule not found")
	ErrScheduleExists    = errors.New("gep: schedule already exists")
	ErrMemberNotFound    = errors.New("gep: member not found")
	ErrInvalidInterval   = errors.New("gep: invalid interval")
	ErrDisjointIntervals = errors.New("gep: intervals do not overlap")
	ErrNoContentKey      = errors.New("gep: content key not found")
	ErrMalformedContent  = errors.New("gep: malformed encrypted content")
	ErrUnsupportedAlgo   = errors.New("gep: unsupported encryption algorithm")
	ErrInvalidKeyName    = errors.New("gep: invalid key name")
	ErrKeyNotAvailable   = errors.New("gep: key not available")
	ErrDecryptionFailed  = errors.New("gep: decryption failed")
)
