package store

import "errors"

var (
	ErrStoreClosed = errors.New("store: connection closed")
	ErrEmptyBatch  = errors.New("store: empty batch")
	// ErrPutFailed is the outcome of a push the store did not acknowledge
	// with a non-empty Data.
	ErrPutFailed = errors.New("Put data into repo failed")
)
