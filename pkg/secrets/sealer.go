// Package secrets seals short credentials (upstream session tokens) before they
// are written to shared storage.
//
// Blob format: version byte | payload.
//
//	0x00 | plaintext                      (no ENCRYPTION_KEY configured)
//	0x01 | nonce | ciphertext[AES-256-GCM] (key = sha256(ENCRYPTION_KEY))
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	versionPlain  byte = 0x00
	versionGCMv1  byte = 0x01
	minBlobLength      = 1
)

var ErrInvalidBlob = errors.New("secrets: invalid blob")

// Sealer encrypts values when a key is configured and passes them through
// (version tagged) otherwise. The zero value is a pass-through sealer.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return &Sealer{}, nil
	}
	h := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(h[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// Encrypting reports whether sealed values are actually encrypted.
func (s *Sealer) Encrypting() bool { return s != nil && s.aead != nil }

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if !s.Encrypting() {
		out := make([]byte, 1+len(plain))
		out[0] = versionPlain
		copy(out[1:], plain)
		return out, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := s.aead.Seal(nil, nonce, plain, nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = versionGCMv1
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return out, nil
}

func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) < minBlobLength {
		return nil, ErrInvalidBlob
	}
	switch blob[0] {
	case versionPlain:
		out := make([]byte, len(blob)-1)
		copy(out, blob[1:])
		return out, nil
	case versionGCMv1:
		if !s.Encrypting() {
			return nil, fmt.Errorf("secrets: blob is encrypted but no key is configured")
		}
		ns := s.aead.NonceSize()
		if len(blob) < 1+ns {
			return nil, fmt.Errorf("secrets: short nonce")
		}
		return s.aead.Open(nil, blob[1:1+ns], blob[1+ns:], nil)
	default:
		return nil, fmt.Errorf("secrets: unsupported version %#x", blob[0])
	}
}

// SealString and OpenString are conveniences for token columns.
func (s *Sealer) SealString(v string) ([]byte, error) { return s.Seal([]byte(v)) }

func (s *Sealer) OpenString(blob []byte) (string, error) {
	b, err := s.Open(blob)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
