// Package models defines server-side data models persisted in the credential store.
package models

import (
	"strings"
	"time"
)

// Identity is one row of the credential store.
type Identity struct {
	ID string
	// Email is the immutable primary identifier, unique across the store.
	Email string
	// Username is an optional unique alias; empty means unset (NULL).
	Username     string
	PasswordHash string
	Role         string

	// OTPSecret is the base32 TOTP secret; empty until enrollment.
	OTPSecret string
	// OTPEnabled is set once the first code has been accepted.
	OTPEnabled bool
	// OTPCompleted records a verified code for the current session and is
	// cleared on every password login.
	OTPCompleted bool

	CreatedAt time.Time
}

// LocalName is the directory RDN value for the identity: the username when
// present, otherwise the local part of the email.
func (i *Identity) LocalName() string {
	if i.Username != "" {
		return i.Username
	}
	local, _, _ := strings.Cut(i.Email, "@")
	return local
}
