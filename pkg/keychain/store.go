package keychain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

const keyFileMode = 0600

// KeyStore persists PEM encoded private keys by identity.
type KeyStore interface {
	Get(id string) ([]byte, error)
	Set(id string, pem []byte) error
	Delete(id string) error
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

// OSKeyStore keeps keys in the operating system keyring.
type OSKeyStore struct {
	Service string
}

func NewOSKeyStore() *OSKeyStore {
	return &OSKeyStore{Service: "gepd"}
}

func (s *OSKeyStore) Get(id string) ([]byte, error) {
	v, err := keyringGet(s.Service, id)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *OSKeyStore) Set(id string, pem []byte) error {
	return keyringSet(s.Service, id, string(pem))
}

func (s *OSKeyStore) Delete(id string) error {
	err := keyringDelete(s.Service, id)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}

// FileKeyStore keeps one PEM file per identity in a directory. It is the
// fallback when no keyring service is reachable.
type FileKeyStore struct {
	fs  afero.Fs
	dir string
}

func NewFileKeyStore(fs afero.Fs, dir string) *FileKeyStore {
	return &FileKeyStore{fs: fs, dir: dir}
}

func (f *FileKeyStore) path(id string) string {
	name := strings.Trim(strings.ReplaceAll(id, "/", "_"), "_")
	if name == "" {
		name = "root"
	}
	return filepath.Join(f.dir, name+".pem")
}

func (f *FileKeyStore) Get(id string) ([]byte, error) {
	b, err := afero.ReadFile(f.fs, f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

// Set writes through a temporary file and rename so a crash never leaves a
// truncated key behind.
func (f *FileKeyStore) Set(id string, pem []byte) error {
	if err := f.fs.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	tmp, err := afero.TempFile(f.fs, f.dir, ".key.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(pem); err != nil {
		tmp.Close()
		_ = f.fs.Remove(tmpPath)
		return fmt.Errorf("write key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Chmod(tmpPath, keyFileMode); err != nil {
		_ = f.fs.Remove(tmpPath)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := f.fs.Rename(tmpPath, f.path(id)); err != nil {
		_ = f.fs.Remove(tmpPath)
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}

func (f *FileKeyStore) Delete(id string) error {
	err := f.fs.Remove(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrKeyNotFound
	}
	return err
}

// FallbackStore reads from and writes to Primary, switching to Secondary for
// the rest of the process once Primary fails with anything but a miss.
type FallbackStore struct {
	Primary   KeyStore
	Secondary KeyStore
	degraded  bool
}

func (s *FallbackStore) active() KeyStore {
	if s.degraded {
		return s.Secondary
	}
	return s.Primary
}

func (s *FallbackStore) Get(id string) ([]byte, error) {
	b, err := s.active().Get(id)
	if err != nil && !errors.Is(err, ErrKeyNotFound) && !s.degraded {
		s.degraded = true
		return s.Secondary.Get(id)
	}
	return b, err
}

func (s *FallbackStore) Set(id string, pem []byte) error {
	if err := s.active().Set(id, pem); err != nil {
		if s.degraded {
			return err
		}
		s.degraded = true
		return s.Set(id, pem)
	}
	return nil
}

func (s *FallbackStore) Delete(id string) error {
	return s.active().Delete(id)
}
