// Package services contains server-side business logic: authentication,
// second factor enrollment, cross-store provisioning and dashboards.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/identities"
)

type ResolutionKind int

const (
	NotFound ResolutionKind = iota
	FoundByEmail
	FoundByUsername
)

func (k ResolutionKind) String() string {
	switch k {
	case FoundByEmail:
		return "email"
	case FoundByUsername:
		return "username"
	default:
		return "not_found"
	}
}

// Resolution is the outcome of looking an identifier up. Identity is nil
// when Kind is NotFound.
type Resolution struct {
	Kind     ResolutionKind
	Identity *models.Identity
}

// Resolve looks identifier up as an email first and as a username second.
// A store failure is returned as is; NotFound is not an error.
func Resolve(ctx context.Context, repo identities.Repository, identifier string) (Resolution, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Resolution{Kind: NotFound}, nil
	}

	identity, err := repo.GetByEmail(ctx, normalizeEmail(identifier))
	switch {
	case err == nil:
		return Resolution{Kind: FoundByEmail, Identity: identity}, nil
	case !errors.Is(err, common.ErrorNotFound):
		return Resolution{}, err
	}

	identity, err = repo.GetByUsername(ctx, identifier)
	switch {
	case err == nil:
		return Resolution{Kind: FoundByUsername, Identity: identity}, nil
	case !errors.Is(err, common.ErrorNotFound):
		return Resolution{}, err
	}

	return Resolution{Kind: NotFound}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
