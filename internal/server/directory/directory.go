// Package directory talks to the LDAP directory backend: binds to verify
// passwords, adds entries on provisioning and deletes them on removal.
package directory

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/go-ldap/ldap/v3"
)

var (
	ErrEntryExists        = errors.New("directory entry already exists")
	ErrNoSuchEntry        = errors.New("directory entry not found")
	ErrInvalidCredentials = errors.New("directory rejected credentials")
	ErrUnavailable        = errors.New("directory unavailable")
)

// Entry is the directory record of one identity.
type Entry struct {
	DN    string
	Name  string // cn and sn
	Email string
	// Password is the userPassword value, already in {SSHA} form.
	Password string
}

// Backend is the directory as seen by the orchestrators.
type Backend interface {
	Authenticate(ctx context.Context, dn, password string) error
	Add(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, dn string) error
}

// DN places identity at cn=<local>,ou=<role>,<baseDN>. Role changes would
// need a modrdn and are not supported.
func DN(identity *models.Identity, baseDN string) string {
	return "cn=" + ldap.EscapeDN(identity.LocalName()) + ",ou=" + ldap.EscapeDN(identity.Role) + "," + baseDN
}

// ObjectClasses are written for every entry.
var ObjectClasses = []string{"inetOrgPerson", "organizationalPerson"}
