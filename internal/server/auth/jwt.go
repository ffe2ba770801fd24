// Package auth issues and validates HS256 session tokens and carries
// validated claims through a request context.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the identity fields the transport
// needs for authorization decisions.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"uid"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Pending2FA bool   `json:"pending_2fa"`
	Completed  bool   `json:"2fa_completed"`
}

// Issuer signs tokens with one symmetric key injected at startup.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for identity. A token issued while the second factor
// is outstanding carries pending_2fa and must not unlock sensitive routes.
func (i *Issuer) Issue(identity *models.Identity, ttl time.Duration, secondFactorPending bool) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:     identity.ID,
		Email:      identity.Email,
		Role:       identity.Role,
		Pending2FA: secondFactorPending,
		Completed:  identity.OTPCompleted,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate returns the claims of a well-formed, correctly signed, unexpired
// token. Expiry is reported as common.ErrTokenExpired, everything else as
// common.ErrTokenInvalid.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrTokenInvalid
	}

	if !token.Valid || claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, common.ErrTokenInvalid
	}

	return claims, nil
}
