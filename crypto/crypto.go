// Package crypto encrypts OAuth tokens at rest with AES-256-GCM.
//
// Ciphertexts are tagged with the id of the key that sealed them so keys can
// be rotated: new writes use the primary key, reads use whichever key the row
// names. The token's owner (e.g. the provider name) is bound as additional
// authenticated data, so a ciphertext copied to another row fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultKeyID names the key loaded from ENCRYPTION_KEY when no id is given.
const DefaultKeyID = "default"

// ErrUnknownKey is returned when a ciphertext names a key the ring lacks.
var ErrUnknownKey = errors.New("unknown encryption key id")

// Keyring holds one primary AEAD and any number of retired ones.
type Keyring struct {
	primary string
	aeads   map[string]cipher.AEAD
}

// ParseKey decodes a base64 32-byte key.
// Generate one with: openssl rand -base64 32
func ParseKey(base64Key string) ([]byte, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Key))
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	return key, nil
}

// NewKeyring builds a ring whose primary key is keys[primaryID].
func NewKeyring(primaryID string, keys map[string][]byte) (*Keyring, error) {
	if _, ok := keys[primaryID]; !ok {
		return nil, fmt.Errorf("primary key %q not provided", primaryID)
	}
	kr := &Keyring{primary: primaryID, aeads: make(map[string]cipher.AEAD, len(keys))}
	for id, key := range keys {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("key %q: create cipher: %w", id, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("key %q: create GCM: %w", id, err)
		}
		kr.aeads[id] = gcm
	}
	return kr, nil
}

// KeyringFromEnv loads ENCRYPTION_KEY (primary, id ENCRYPTION_KEY_ID or
// "default") and ENCRYPTION_KEYS_RETIRED ("id:base64,id:base64"). It returns
// nil, nil when ENCRYPTION_KEY is unset, which disables encryption.
func KeyringFromEnv() (*Keyring, error) {
	raw := os.Getenv("ENCRYPTION_KEY")
	if raw == "" {
		return nil, nil
	}
	id := os.Getenv("ENCRYPTION_KEY_ID")
	if id == "" {
		id = DefaultKeyID
	}
	primary, err := ParseKey(raw)
	if err != nil {
		return nil, err
	}
	keys := map[string][]byte{id: primary}
	for _, pair := range strings.Split(os.Getenv("ENCRYPTION_KEYS_RETIRED"), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		rid, rkey, ok := strings.Cut(pair, ":")
		if !ok || rid == "" {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEYS_RETIRED entry %q", pair)
		}
		k, err := ParseKey(rkey)
		if err != nil {
			return nil, fmt.Errorf("retired key %q: %w", rid, err)
		}
		if _, dup := keys[rid]; dup {
			return nil, fmt.Errorf("duplicate key id %q", rid)
		}
		keys[rid] = k
	}
	return NewKeyring(id, keys)
}

// PrimaryID returns the id new ciphertexts are sealed with.
func (k *Keyring) PrimaryID() string { return k.primary }

// Seal encrypts plaintext with the primary key and returns base64 of
// nonce || ciphertext || tag together with the key id. An empty plaintext
// seals to an empty string.
func (k *Keyring) Seal(plaintext, owner string) (ciphertext, keyID string, err error) {
	if plaintext == "" {
		return "", k.primary, nil
	}
	aead := k.aeads[k.primary]
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return base64.StdEncoding.EncodeToString(sealed), k.primary, nil
}

// Open reverses Seal. owner must match the value used when sealing.
func (k *Keyring) Open(ciphertext, keyID, owner string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	aead, ok := k.aeads[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	ns := aead.NonceSize()
	if len(raw) < ns+aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}
	plain, err := aead.Open(nil, raw[:ns], raw[ns:], []byte(owner))
	if err != nil {
		// Don't expose internal error details.
		return "", errors.New("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// NeedsRotation reports whether a value sealed with keyID should be
// re-sealed under the primary key.
func (k *Keyring) NeedsRotation(keyID string) bool { return keyID != k.primary }
