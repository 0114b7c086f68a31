// Package secrets generates bearer tokens and the digests stored in their place.
package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	dErrors "caredrop/pkg/domain-errors"
)

// TokenBytes is the entropy of a generated token.
const TokenBytes = 32

// Generate creates a cryptographically secure random token, base64url encoded
// without padding so it fits in a QR payload or URL unchanged.
func Generate() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Digest returns the hex BLAKE2b-256 digest of a token. Stores index claims
// by digest; raw tokens are never persisted.
func Digest(token string) (string, error) {
	if token == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token cannot be empty")
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether token hashes to digest, in constant time.
func Verify(token, digest string) bool {
	got, err := Digest(token)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// NewToken generates a token together with its digest.
func NewToken() (token, digest string, err error) {
	token, err = Generate()
	if err != nil {
		return "", "", err
	}
	digest, err = Digest(token)
	if err != nil {
		return "", "", err
	}
	return token, digest, nil
}
