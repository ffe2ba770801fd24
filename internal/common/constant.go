package common

// AuthorizationHeaderName carries the bearer token on inbound HTTP requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the token in the Authorization header.
const BearerPrefix = "Bearer "

// Roles known to the credential store. The directory places entries under
// an organizational unit named after the role.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// KnownRoles lists every role accepted at provisioning time.
var KnownRoles = []string{RoleAdmin, RoleEditor, RoleViewer}
