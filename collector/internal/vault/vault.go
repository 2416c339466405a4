// Package vault encrypts and decrypts device credentials at rest.
//
// Blobs are "v1:" followed by base64url(nonce || ciphertext), sealed with
// XChaCha20-Poly1305 under a single process-wide key. The key itself comes
// from one of the backends in keysource.go.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pilot-net/routerwatch/pkg/types"
)

const blobPrefix = "v1:"

// CredentialError reports a failed encrypt or decrypt. It never carries
// plaintext or key material.
type CredentialError struct {
	Op     string // "encrypt", "decrypt" or "key"
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s failed: %s", e.Op, e.Reason)
}

// Vault seals and opens credential blobs.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, &CredentialError{Op: "key", Reason: fmt.Sprintf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))}
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, &CredentialError{Op: "key", Reason: "cipher init"}
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext into a blob.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", &CredentialError{Op: "encrypt", Reason: "nonce generation"}
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return blobPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	if !strings.HasPrefix(blob, blobPrefix) {
		return nil, &CredentialError{Op: "decrypt", Reason: "unknown blob format"}
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(blob, blobPrefix))
	if err != nil {
		return nil, &CredentialError{Op: "decrypt", Reason: "malformed blob encoding"}
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return nil, &CredentialError{Op: "decrypt", Reason: "blob too short"}
	}
	plaintext, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, &CredentialError{Op: "decrypt", Reason: "authentication failed (wrong key or tampered blob)"}
	}
	return plaintext, nil
}

// EncryptCredentials seals a credentials document.
func (v *Vault) EncryptCredentials(c types.Credentials) (string, error) {
	if c.Username == "" {
		return "", &CredentialError{Op: "encrypt", Reason: "username is required"}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", &CredentialError{Op: "encrypt", Reason: "encoding credentials"}
	}
	return v.Encrypt(data)
}

// DecryptCredentials opens a blob and decodes the credentials inside.
func (v *Vault) DecryptCredentials(blob string) (types.Credentials, error) {
	var c types.Credentials
	data, err := v.Decrypt(blob)
	if err != nil {
		return c, err
	}
	// Decode errors are not wrapped: they can quote the input.
	if err := json.Unmarshal(data, &c); err != nil {
		return types.Credentials{}, &CredentialError{Op: "decrypt", Reason: "malformed credential document"}
	}
	if c.Username == "" {
		return types.Credentials{}, &CredentialError{Op: "decrypt", Reason: "credential document has no username"}
	}
	return c, nil
}
