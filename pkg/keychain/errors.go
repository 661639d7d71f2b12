package keychain

import "errors"

var (
	ErrInvalidCertificate = errors.New("keychain: invalid certificate")
	ErrInvalidSignature   = errors.New("keychain: signature verification failed")
	ErrKeyNotFound        = errors.New("keychain: key not found")
	ErrUnsupportedKey     = errors.New("keychain: unsupported key type")
)
