package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// Messages marked is_encrypted carry base64 nacl anonymous boxes sealed to
// the recipient's curve25519 public key. Only clients hold private keys.

const KeySize = 32

var ErrDecrypt = errors.New("ciphertext could not be opened with this key")

type KeyPair struct {
	Public  *[KeySize]byte
	Private *[KeySize]byte
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// ParseKeyPair decodes base64 public and private keys.
func ParseKeyPair(public, private string) (*KeyPair, error) {
	pub, err := ParseKey(public)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	priv, err := ParseKey(private)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

func ParseKey(s string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(raw))
	}
	var k [KeySize]byte
	copy(k[:], raw)
	return &k, nil
}

func EncodeKey(k *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Seal encrypts plaintext for the holder of recipient's private key.
func Seal(plaintext string, recipient *[KeySize]byte) (string, error) {
	sealed, err := box.SealAnonymous(nil, []byte(plaintext), recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (k *KeyPair) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, ok := box.OpenAnonymous(nil, raw, k.Public, k.Private)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
