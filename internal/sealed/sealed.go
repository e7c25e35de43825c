// Package sealed is the encryption boundary between extraction and
// storage. Fields classified above PUBLIC pass through Seal before they
// are persisted and Open when they are read back.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrDecryption is returned when an envelope fails authentication,
// either because it was tampered with or because the wrong key was
// used. No partial plaintext is ever returned alongside it.
var ErrDecryption = errors.New("envelope authentication failed")

// CipherEnvelope carries one sealed payload. The tag is kept separate
// from the ciphertext so a reader can tell the envelope layout without
// knowing the cipher internals. Key material is never part of the
// envelope.
type CipherEnvelope struct {
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts the payload under the given key with AES-256-GCM and a
// fresh random nonce.
func Seal(payload, key []byte) (*CipherEnvelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, iv, payload, nil)
	tagStart := len(sealed) - aead.Overhead()
	return &CipherEnvelope{
		IV:         iv,
		Tag:        sealed[tagStart:],
		Ciphertext: sealed[:tagStart],
	}, nil
}

// Open decrypts an envelope. A tag mismatch yields ErrDecryption.
func Open(envelope *CipherEnvelope, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(envelope.IV) != aead.NonceSize() {
		return nil, ErrDecryption
	}
	sealed := make([]byte, 0, len(envelope.Ciphertext)+len(envelope.Tag))
	sealed = append(sealed, envelope.Ciphertext...)
	sealed = append(sealed, envelope.Tag...)
	payload, err := aead.Open(nil, envelope.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return payload, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
