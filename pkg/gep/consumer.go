package gep

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/ndn"
)

// DecryptDKey recovers the group private key from a D-KEY using the member's
// private key.
func DecryptDKey(dkey *ndn.Data, memberKey *rsa.PrivateKey) (*rsa.PrivateKey, error) {
	der, err := DecryptAsymmetric(dkey.Content, memberKey)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, keychain.ErrUnsupportedKey
	}
	return key, nil
}

// DecryptCKey recovers a content key from a wrapped C-KEY using the group
// private key.
func DecryptCKey(ckey *ndn.Data, groupKey *rsa.PrivateKey) ([]byte, error) {
	return DecryptAsymmetric(ckey.Content, groupKey)
}

// DecryptContent decrypts produced content with its content key.
func DecryptContent(d *ndn.Data, contentKey []byte) ([]byte, error) {
	return DecryptSymmetric(d.Content, contentKey)
}

// Consumer fetches encrypted content and walks the key chain needed to read
// it: content, then its C-KEY, then the D-KEY issued to this member.
type Consumer struct {
	fetcher   Fetcher
	keyName   ndn.Name
	key       *rsa.PrivateKey
	lifetime  time.Duration
	cKeys     map[string][]byte
	groupKeys map[string]*rsa.PrivateKey
}

func NewConsumer(fetcher Fetcher, keyName ndn.Name, key *rsa.PrivateKey) *Consumer {
	return &Consumer{
		fetcher:   fetcher,
		keyName:   keyName,
		key:       key,
		lifetime:  ndn.DefaultInterestLifetime,
		cKeys:     make(map[string][]byte),
		groupKeys: make(map[string]*rsa.PrivateKey),
	}
}

// Consume fetches name and delivers its plaintext or the first error.
func (c *Consumer) Consume(name ndn.Name, onPlain func([]byte), onError func(error)) {
	c.fetch(&ndn.Interest{Name: name, Lifetime: c.lifetime, Nonce: ndn.RandomNonce()}, func(d *ndn.Data) {
		ec, _, err := DecodeEncryptedContent(d.Content)
		if err != nil {
			onError(err)
			return
		}
		c.contentKey(ec.KeyLocator, func(key []byte) {
			plain, err := DecryptContent(d, key)
			if err != nil {
				onError(err)
				return
			}
			onPlain(plain)
		}, onError)
	}, onError)
}

func (c *Consumer) contentKey(name ndn.Name, onKey func([]byte), onError func(error)) {
	if key, ok := c.cKeys[name.String()]; ok {
		onKey(key)
		return
	}
	c.fetch(&ndn.Interest{Name: name, CanBePrefix: true, Lifetime: c.lifetime, Nonce: ndn.RandomNonce()}, func(d *ndn.Data) {
		ec, _, err := DecodeEncryptedContent(d.Content)
		if err != nil {
			onError(err)
			return
		}
		c.groupKey(ec.KeyLocator, func(gk *rsa.PrivateKey) {
			key, err := DecryptCKey(d, gk)
			if err != nil {
				onError(err)
				return
			}
			c.cKeys[name.String()] = key
			onKey(key)
		}, onError)
	}, onError)
}

func (c *Consumer) groupKey(eKeyName ndn.Name, onKey func(*rsa.PrivateKey), onError func(error)) {
	dkeyName, err := DKeyNameFor(eKeyName, c.keyName)
	if err != nil {
		onError(err)
		return
	}
	if key, ok := c.groupKeys[dkeyName.String()]; ok {
		onKey(key)
		return
	}
	c.fetch(&ndn.Interest{Name: dkeyName, Lifetime: c.lifetime, Nonce: ndn.RandomNonce()}, func(d *ndn.Data) {
		key, err := DecryptDKey(d, c.key)
		if err != nil {
			onError(err)
			return
		}
		c.groupKeys[dkeyName.String()] = key
		onKey(key)
	}, onError)
}

func (c *Consumer) fetch(i *ndn.Interest, onData func(*ndn.Data), onError func(error)) {
	c.fetcher.ExpressInterest(i,
		func(_ *ndn.Interest, d *ndn.Data) { onData(d) },
		func(i *ndn.Interest) { onError(fmt.Errorf("%w: %s", ErrKeyNotAvailable, i.Name)) },
	)
}
