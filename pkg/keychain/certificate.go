package keychain

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/gepd/gepd/pkg/ndn"
)

// Certificate is the parsed form of a certificate Data packet named
// <identity>/KEY/<keyId>/<issuer>/<version>.
type Certificate struct {
	Name      ndn.Name
	KeyName   ndn.Name
	PublicKey *rsa.PublicKey
	Data      *ndn.Data
}

// Identity returns the name before the KEY component.
func (c *Certificate) Identity() ndn.Name {
	return c.KeyName.Prefix(-2)
}

// ParseCertificate validates the name layout and decodes the PKIX public key
// carried in the content.
func ParseCertificate(d *ndn.Data) (*Certificate, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil data", ErrInvalidCertificate)
	}
	idx := -1
	for i := d.Name.Len() - 4; i >= 0; i-- {
		if string(d.Name.At(i)) == "KEY" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s has no KEY/<keyId>/<issuer>/<version> suffix", ErrInvalidCertificate, d.Name)
	}
	if len(d.Content) == 0 {
		return nil, fmt.Errorf("%w: %s has empty content", ErrInvalidCertificate, d.Name)
	}
	parsed, err := x509.ParsePKIXPublicKey(d.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCertificate, d.Name, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", ErrInvalidCertificate, d.Name)
	}
	return &Certificate{
		Name:      d.Name.Append(),
		KeyName:   d.Name.Prefix(idx + 2),
		PublicKey: pub,
		Data:      d,
	}, nil
}
