// Package cryptox holds the password primitives: bcrypt for the credential
// store and salted SHA-1 ({SSHA}) for directory userPassword values.
package cryptox

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost used for new credential-store hashes.
const DefaultBcryptCost = 10

// MaxPasswordLength is the bcrypt input limit; longer passwords would be
// silently truncated.
const MaxPasswordLength = 72

var (
	ErrPasswordEmpty   = errors.New("password must not be empty")
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// ValidatePassword checks the length limits.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordEmpty
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultBcryptCost)
}

// HashPasswordWithCost is HashPassword with an explicit cost. Tests use
// bcrypt.MinCost to stay fast.
func HashPasswordWithCost(password string, cost int) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const sshaPrefix = "{SSHA}"

// SSHA renders password in the RFC 2307 {SSHA} scheme understood by LDAP
// servers: base64(sha1(password || salt) || salt) with a 4-byte salt.
func SSHA(password string) (string, error) {
	salt := make([]byte, 4)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return sshaWithSalt(password, salt), nil
}

func sshaWithSalt(password string, salt []byte) string {
	h := sha1.New()
	h.Write([]byte(password))
	h.Write(salt)
	sum := h.Sum(nil)
	return sshaPrefix + base64.StdEncoding.EncodeToString(append(sum, salt...))
}

// VerifySSHA checks password against an {SSHA} value.
func VerifySSHA(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, sshaPrefix) {
		return false, ErrUnsupportedHash
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, sshaPrefix))
	if err != nil {
		return false, err
	}
	if len(raw) <= sha1.Size {
		return false, ErrUnsupportedHash
	}
	want := sshaWithSalt(password, raw[sha1.Size:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(encoded)) == 1, nil
}
