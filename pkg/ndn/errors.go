package ndn

import "errors"

var (
	ErrTruncated    = errors.New("ndn: truncated TLV")
	ErrMalformed    = errors.New("ndn: malformed packet")
	ErrUnexpected   = errors.New("ndn: unexpected TLV type")
	ErrInvalidName  = errors.New("ndn: invalid name")
	ErrIndexOutside = errors.New("ndn: component index out of range")
)
