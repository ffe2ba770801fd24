// Package secondfactor generates TOTP secrets and checks codes: 30 second
// steps, one step of skew either way, 6 digits, SHA1. Codes are not
// remembered, so a code may be reused within its window.
package secondfactor

import (
	"bytes"
	"encoding/base32"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period     = 30
	Skew       = 1
	SecretSize = 20 // 160 bits, 32 base32 characters
)

var ErrInvalidSecret = errors.New("invalid TOTP secret")

// Key is a secret together with its otpauth:// provisioning URI.
type Key struct {
	Secret string
	URI    string
}

type Engine struct {
	issuer string
	now    func() time.Time
}

func NewEngine(issuer string) *Engine {
	return &Engine{issuer: issuer, now: time.Now}
}

// NewSecret draws a fresh secret from crypto/rand for account.
func (e *Engine) NewSecret(account string) (*Key, error) {
	k, err := totp.Generate(e.opts(account, nil))
	if err != nil {
		return nil, fmt.Errorf("generate TOTP secret: %w", err)
	}
	return &Key{Secret: k.Secret(), URI: k.URL()}, nil
}

// Provision rebuilds the provisioning URI for an existing secret.
func (e *Engine) Provision(secret, account string) (*Key, error) {
	k, err := e.key(secret, account)
	if err != nil {
		return nil, err
	}
	return &Key{Secret: k.Secret(), URI: k.URL()}, nil
}

// Validate reports whether code matches secret at the current time step or
// one step either side.
func (e *Engine) Validate(secret, code string) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, e.now().UTC(), validateOpts)
	return err == nil && ok
}

// Code returns the code for secret at t, as an authenticator app would show it.
func Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts)
}

// QRCode renders the provisioning URI of secret as a PNG of size×size pixels.
func (e *Engine) QRCode(secret, account string, size int) ([]byte, error) {
	k, err := e.key(secret, account)
	if err != nil {
		return nil, err
	}
	img, err := k.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode QR code: %w", err)
	}
	return buf.Bytes(), nil
}

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      Skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func (e *Engine) key(secret, account string) (*otp.Key, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	k, err := totp.Generate(e.opts(account, raw))
	if err != nil {
		return nil, fmt.Errorf("build TOTP key: %w", err)
	}
	return k, nil
}

func (e *Engine) opts(account string, secret []byte) totp.GenerateOpts {
	return totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		Period:      Period,
		SecretSize:  SecretSize,
		Secret:      secret,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	}
}
