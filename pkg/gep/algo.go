package gep

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/gepd/gepd/pkg/ndn"
	"golang.org/x/crypto/hkdf"
)

// Algorithm identifies the cipher in an EncryptedContent.
type Algorithm uint64

const (
	AlgorithmAesEcb  Algorithm = 0
	AlgorithmAesCbc  Algorithm = 1
	AlgorithmRsaPkcs Algorithm = 2
	AlgorithmRsaOaep Algorithm = 3
)

// AESKeySize is the content key length in bytes.
const AESKeySize = 16

// GenerateAESKey returns a random content key.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveIV derives the CBC IV from the key and the name of the Data being
// encrypted, so the same key, name and plaintext always encrypt identically.
func DeriveIV(key []byte, name ndn.Name) ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, name.Encode()), iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// EncryptAesCbc encrypts plain with PKCS#7 padding.
func EncryptAesCbc(key, iv, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	buf := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return buf, nil
}

// DecryptAesCbc reverses EncryptAesCbc.
func DecryptAesCbc(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: bad ciphertext length %d", ErrDecryptionFailed, len(ct))
	}
	buf := append([]byte(nil), ct...)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, buf)
	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
		}
	}
	return buf[:len(buf)-pad], nil
}

func encryptOaep(pub *rsa.PublicKey, plain []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plain, nil)
}

func decryptOaep(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	plain, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plain, nil
}

func oaepCapacity(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// EncryptSymmetric returns the EncryptedContent for plain under an AES key
// named keyName, with the IV derived from the key and dataName.
func EncryptSymmetric(dataName ndn.Name, plain, key []byte, keyName ndn.Name) ([]byte, error) {
	iv, err := DeriveIV(key, dataName)
	if err != nil {
		return nil, err
	}
	ct, err := EncryptAesCbc(key, iv, plain)
	if err != nil {
		return nil, err
	}
	ec := &EncryptedContent{Algorithm: AlgorithmAesCbc, KeyLocator: keyName, IV: iv, Payload: ct}
	return ec.Encode(), nil
}

// EncryptAsymmetric returns content encrypted for the RSA key named keyName.
// Payloads too large for one OAEP block are AES encrypted under a random nonce
// key, and the content is the wrapped nonce followed by that ciphertext.
func EncryptAsymmetric(dataName ndn.Name, plain []byte, pub *rsa.PublicKey, keyName ndn.Name) ([]byte, error) {
	if len(plain) <= oaepCapacity(pub) {
		ct, err := encryptOaep(pub, plain)
		if err != nil {
			return nil, err
		}
		return (&EncryptedContent{Algorithm: AlgorithmRsaOaep, KeyLocator: keyName, Payload: ct}).Encode(), nil
	}
	nonce, err := GenerateAESKey()
	if err != nil {
		return nil, err
	}
	payload, err := EncryptSymmetric(dataName, plain, nonce, keyName.AppendString("nonce"))
	if err != nil {
		return nil, err
	}
	wrapped, err := encryptOaep(pub, nonce)
	if err != nil {
		return nil, err
	}
	out := (&EncryptedContent{Algorithm: AlgorithmRsaOaep, KeyLocator: keyName, Payload: wrapped}).Encode()
	return append(out, payload...), nil
}

// DecryptSymmetric decrypts AES-CBC content with key.
func DecryptSymmetric(content, key []byte) ([]byte, error) {
	ec, _, err := DecodeEncryptedContent(content)
	if err != nil {
		return nil, err
	}
	if ec.Algorithm != AlgorithmAesCbc {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgo, ec.Algorithm)
	}
	return DecryptAesCbc(key, ec.IV, ec.Payload)
}

// DecryptAsymmetric reverses EncryptAsymmetric.
func DecryptAsymmetric(content []byte, priv *rsa.PrivateKey) ([]byte, error) {
	ec, rest, err := DecodeEncryptedContent(content)
	if err != nil {
		return nil, err
	}
	if ec.Algorithm != AlgorithmRsaOaep {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgo, ec.Algorithm)
	}
	plain, err := decryptOaep(priv, ec.Payload)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 {
		return plain, nil
	}
	return DecryptSymmetric(rest, plain)
}
