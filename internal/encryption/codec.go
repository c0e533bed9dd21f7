// Package encryption implements the field-level codec used to keep selected
// record fields encrypted at rest.
//
// Ciphertext format:
//
//	enc:v1:<kid>:<base64url(nonce || sealed)>
//
// kid identifies the key the value was sealed with, so values written before a
// key rotation stay readable as long as the old secret is configured as a
// previous secret.
//
// EncryptFor and DecryptFor bind a value to a scope (the store uses
// "<kind>.<field>"). The scope goes into the GCM additional data, so a value
// only opens in the slot it was written for.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the minimum accepted length of an encryption secret.
const MinSecretLength = 32

const (
	formatPrefix = "enc:v1:"
	kidLength    = 8
	hkdfSalt     = "duotime-field-encryption"
	hkdfInfo     = "aes-256-gcm"
)

var (
	ErrEncryptionFailure = errors.New("encryption failure")
	ErrDecryptionFailure = errors.New("decryption failure")
	ErrWeakSecret        = fmt.Errorf("encryption secret must be at least %d characters", MinSecretLength)
)

type sealer struct {
	kid  string
	aead cipher.AEAD
}

// Codec encrypts and decrypts individual string fields. It is immutable after
// construction and safe for concurrent use.
type Codec struct {
	current sealer
	byKID   map[string]cipher.AEAD
	rand    io.Reader
}

// NewCodec derives the current key from secret. previous secrets are accepted
// for decryption only.
func NewCodec(secret string, previous ...string) (*Codec, error) {
	current, err := newSealer(secret)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		current: current,
		byKID:   map[string]cipher.AEAD{current.kid: current.aead},
		rand:    rand.Reader,
	}
	for _, p := range previous {
		s, err := newSealer(p)
		if err != nil {
			return nil, fmt.Errorf("previous secret: %w", err)
		}
		if _, ok := c.byKID[s.kid]; !ok {
			c.byKID[s.kid] = s.aead
		}
	}
	return c, nil
}

func newSealer(secret string) (sealer, error) {
	if len(secret) < MinSecretLength {
		return sealer{}, ErrWeakSecret
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(hkdfSalt), []byte(hkdfInfo)), key); err != nil {
		return sealer{}, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return sealer{}, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return sealer{}, err
	}

	sum := sha256.Sum256(key)
	return sealer{kid: hex.EncodeToString(sum[:])[:kidLength], aead: aead}, nil
}

// KeyID returns the id of the key used for new ciphertext.
func (c *Codec) KeyID() string {
	return c.current.kid
}

// Encrypt seals plaintext with the current key. The empty string is returned
// unchanged.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	return c.EncryptFor("", plaintext)
}

// EncryptFor is Encrypt bound to scope; only DecryptFor with the same scope
// opens the result.
func (c *Codec) EncryptFor(scope, plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	aead := c.current.aead
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncryptionFailure, err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), additionalData(c.current.kid, scope))
	return formatPrefix + c.current.kid + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. The empty string is returned
// unchanged; anything else that is not ciphertext for a known key fails with
// ErrDecryptionFailure.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	return c.DecryptFor("", ciphertext)
}

// DecryptFor opens a value produced by EncryptFor with the same scope.
func (c *Codec) DecryptFor(scope, ciphertext string) (string, error) {
	if ciphertext == "" {
		return ciphertext, nil
	}

	rest, ok := strings.CutPrefix(ciphertext, formatPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing format prefix", ErrDecryptionFailure)
	}
	kid, payload, ok := strings.Cut(rest, ":")
	if !ok || len(kid) != kidLength {
		return "", fmt.Errorf("%w: malformed key id", ErrDecryptionFailure)
	}
	aead, ok := c.byKID[kid]
	if !ok {
		return "", fmt.Errorf("%w: unknown key id %s", ErrDecryptionFailure, kid)
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrDecryptionFailure)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData(kid, scope))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	return string(plaintext), nil
}

// EncryptNullable is Encrypt for optional values; nil passes through.
func (c *Codec) EncryptNullable(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptNullable is Decrypt for optional values; nil passes through.
func (c *Codec) DecryptNullable(ciphertext *string) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	out, err := c.Decrypt(*ciphertext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IsEncrypted reports whether value carries the ciphertext marker and opens
// under one of the configured keys.
func (c *Codec) IsEncrypted(value string) bool {
	return c.IsEncryptedFor("", value)
}

// IsEncryptedFor is IsEncrypted for values bound to scope.
func (c *Codec) IsEncryptedFor(scope, value string) bool {
	if !strings.HasPrefix(value, formatPrefix) {
		return false
	}
	_, err := c.DecryptFor(scope, value)
	return err == nil
}

// sealedByUs reports whether value is in the ciphertext format under a
// configured key, whatever scope it was sealed for.
func (c *Codec) sealedByUs(value string) bool {
	rest, ok := strings.CutPrefix(value, formatPrefix)
	if !ok {
		return false
	}
	kid, _, ok := strings.Cut(rest, ":")
	if !ok {
		return false
	}
	_, known := c.byKID[kid]
	return known
}

func additionalData(kid, scope string) []byte {
	if scope == "" {
		return []byte(formatPrefix + kid)
	}
	return []byte(formatPrefix + kid + ":" + scope)
}
