package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DefaultSaltLength is the salt size in bytes used when none is configured.
const DefaultSaltLength = 16

// credentialSeparator splits salt from digest in the SHA-256 format.
const credentialSeparator = ":"

// legacyBase64Pattern is the alphabet accepted for the legacy Base64 format.
var legacyBase64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Encoding identifies how a stored credential was produced.
type Encoding int

const (
	EncodingPlainText Encoding = iota
	EncodingLegacyBase64
	EncodingSHA256
)

// String returns the label used in logs and API responses.
func (e Encoding) String() string {
	switch e {
	case EncodingSHA256:
		return "sha256"
	case EncodingLegacyBase64:
		return "base64"
	default:
		return "plaintext"
	}
}

// MarshalText lets Encoding be used as a JSON value and map key.
func (e Encoding) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Credential is a parsed stored credential. The concrete type is one of
// SHA256Salted, LegacyBase64 or PlainText.
type Credential interface {
	Encoding() Encoding
	// Matches reports whether plaintext reproduces this credential.
	// Comparison time does not depend on where the inputs differ.
	Matches(plaintext string) bool
}

// SHA256Salted is the current format: base64(salt) ":" base64(sha256(salt || password)).
type SHA256Salted struct {
	Salt   []byte
	Digest []byte
}

func (c SHA256Salted) Encoding() Encoding { return EncodingSHA256 }

func (c SHA256Salted) Matches(plaintext string) bool {
	return subtle.ConstantTimeCompare(saltedDigest(c.Salt, plaintext), c.Digest) == 1
}

// String serialises the credential in its stored form.
func (c SHA256Salted) String() string {
	return base64.StdEncoding.EncodeToString(c.Salt) + credentialSeparator +
		base64.StdEncoding.EncodeToString(c.Digest)
}

// LegacyBase64 is a password stored as its Base64 encoding.
type LegacyBase64 struct {
	Payload []byte
}

func (c LegacyBase64) Encoding() Encoding { return EncodingLegacyBase64 }

func (c LegacyBase64) Matches(plaintext string) bool {
	return subtle.ConstantTimeCompare(c.Payload, []byte(plaintext)) == 1
}

// PlainText is a password stored verbatim.
type PlainText struct {
	Value string
}

func (c PlainText) Encoding() Encoding { return EncodingPlainText }

func (c PlainText) Matches(plaintext string) bool {
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(plaintext)) == 1
}

// ParseCredential classifies a stored value by shape alone. It is total:
// anything that is neither SHA-256 nor legacy Base64 is PlainText.
//
// The checks run in a fixed order:
//  1. SHA-256: exactly one ":", the left side is valid Base64 and the right
//     side decodes to a 32 byte digest.
//  2. Legacy Base64: no ":", only Base64 alphabet with at most two "=",
//     and it decodes.
//  3. Plain text.
func ParseCredential(stored string) Credential {
	if c, ok := parseSHA256(stored); ok {
		return c
	}
	if c, ok := parseLegacyBase64(stored); ok {
		return c
	}
	return PlainText{Value: stored}
}

// ClassifyEncoding reports which encoding ParseCredential would pick.
func ClassifyEncoding(stored string) Encoding {
	return ParseCredential(stored).Encoding()
}

func parseSHA256(stored string) (SHA256Salted, bool) {
	saltPart, digestPart, found := strings.Cut(stored, credentialSeparator)
	if !found || strings.Contains(digestPart, credentialSeparator) {
		return SHA256Salted{}, false
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return SHA256Salted{}, false
	}
	digest, err := base64.StdEncoding.DecodeString(digestPart)
	if err != nil || len(digest) != sha256.Size {
		return SHA256Salted{}, false
	}
	return SHA256Salted{Salt: salt, Digest: digest}, true
}

func parseLegacyBase64(stored string) (LegacyBase64, bool) {
	if stored == "" || strings.Contains(stored, credentialSeparator) || !legacyBase64Pattern.MatchString(stored) {
		return LegacyBase64{}, false
	}
	payload, err := base64.StdEncoding.DecodeString(stored)
	if err != nil && !strings.Contains(stored, "=") {
		// Legacy writers sometimes dropped the padding.
		payload, err = base64.RawStdEncoding.DecodeString(stored)
	}
	if err != nil {
		return LegacyBase64{}, false
	}
	return LegacyBase64{Payload: payload}, true
}

func saltedDigest(salt []byte, plaintext string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(plaintext))
	return h.Sum(nil)
}

// Codec encodes new credentials and verifies attempts against stored ones.
// It is safe for concurrent use.
type Codec struct {
	saltLength int
	rand       io.Reader
}

// NewCodec returns a Codec producing salts of saltLength bytes.
// A non-positive length selects DefaultSaltLength.
func NewCodec(saltLength int) *Codec {
	if saltLength <= 0 {
		saltLength = DefaultSaltLength
	}
	return &Codec{saltLength: saltLength, rand: rand.Reader}
}

// Encode produces a freshly salted SHA-256 credential for plaintext.
func (c *Codec) Encode(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("encoding credential: %w", ErrInvalidInput)
	}

	salt := make([]byte, c.saltLength)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	return SHA256Salted{Salt: salt, Digest: saltedDigest(salt, plaintext)}.String(), nil
}

// Verify reports whether plaintext matches stored. An empty stored value
// never matches.
func (c *Codec) Verify(plaintext, stored string) bool {
	if stored == "" {
		return false
	}
	return ParseCredential(stored).Matches(plaintext)
}
