// Package keychain signs and verifies Data packets with an RSA identity and
// parses the certificates members present to the group manager.
package keychain

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gepd/gepd/pkg/ndn"
)

// Signer signs outgoing Data in place.
type Signer interface {
	Sign(d *ndn.Data) error
}

// DigestSigner applies a DigestSha256 signature. It is used when a role runs
// without an identity.
type DigestSigner struct{}

func (DigestSigner) Sign(d *ndn.Data) error {
	d.SignatureInfo = ndn.SignatureInfo{Type: ndn.SignatureDigestSha256}
	sum := sha256.Sum256(d.SignedPortion())
	d.SignatureValue = sum[:]
	return nil
}

// Keychain holds one RSA identity and its self-signed certificate.
type Keychain struct {
	identity ndn.Name
	keyName  ndn.Name
	key      *rsa.PrivateKey
	cert     *ndn.Data
}

// Generate creates a fresh identity with a key of the given size.
func Generate(identity ndn.Name, bits int) (*Keychain, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keychain: generate key: %w", err)
	}
	return New(identity, key)
}

// New wraps an existing private key.
func New(identity ndn.Name, key *rsa.PrivateKey) (*Keychain, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(der)
	k := &Keychain{
		identity: identity,
		keyName:  identity.AppendString("KEY", hex.EncodeToString(sum[:8])),
		key:      key,
	}
	cert := ndn.NewData(
		k.keyName.AppendString("self", strconv.FormatInt(time.Now().UnixMilli(), 10)),
		der,
	)
	cert.MetaInfo = ndn.MetaInfo{ContentType: ndn.ContentTypeKey, FreshnessPeriod: time.Hour}
	if err := k.Sign(cert); err != nil {
		return nil, err
	}
	k.cert = cert
	return k, nil
}

// Open loads the identity's key from store, creating and saving one of the
// given size when none exists.
func Open(identity ndn.Name, store KeyStore, bits int) (*Keychain, error) {
	id := identity.String()
	raw, err := store.Get(id)
	if err == nil {
		key, err := DecodePrivateKey(raw)
		if err != nil {
			return nil, err
		}
		return New(identity, key)
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	k, err := Generate(identity, bits)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodePrivateKey(k.key)
	if err != nil {
		return nil, err
	}
	if err := store.Set(id, encoded); err != nil {
		return nil, fmt.Errorf("keychain: save %s: %w", id, err)
	}
	return k, nil
}

func (k *Keychain) Identity() ndn.Name          { return k.identity }
func (k *Keychain) KeyName() ndn.Name           { return k.keyName }
func (k *Keychain) PrivateKey() *rsa.PrivateKey { return k.key }
func (k *Keychain) PublicKey() *rsa.PublicKey   { return &k.key.PublicKey }
func (k *Keychain) Certificate() *ndn.Data      { return k.cert }

// Sign applies a SHA256-with-RSA signature whose KeyLocator names the key.
// PKCS#1 v1.5 signatures are deterministic, so signing the same packet twice
// yields the same wire form.
func (k *Keychain) Sign(d *ndn.Data) error {
	d.SignatureInfo = ndn.SignatureInfo{Type: ndn.SignatureSha256WithRsa, KeyLocator: k.keyName}
	digest := sha256.Sum256(d.SignedPortion())
	sig, err := rsa.SignPKCS1v15(nil, k.key, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("keychain: sign %s: %w", d.Name, err)
	}
	d.SignatureValue = sig
	return nil
}

// Verify checks d's signature. pub may be nil for digest signatures.
func Verify(d *ndn.Data, pub *rsa.PublicKey) error {
	digest := sha256.Sum256(d.SignedPortion())
	switch d.SignatureInfo.Type {
	case ndn.SignatureDigestSha256:
		if subtle.ConstantTimeCompare(digest[:], d.SignatureValue) != 1 {
			return ErrInvalidSignature
		}
		return nil
	case ndn.SignatureSha256WithRsa:
		if pub == nil {
			return fmt.Errorf("%w: no public key for %s", ErrInvalidSignature, d.Name)
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], d.SignatureValue); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	}
	return fmt.Errorf("%w: signature type %d", ErrInvalidSignature, d.SignatureInfo.Type)
}

// EncodePrivateKey returns the PEM PKCS#8 form of key.
func EncodePrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodePrivateKey parses a PEM PKCS#8 RSA key.
func DecodePrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrUnsupportedKey)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	return key, nil
}
