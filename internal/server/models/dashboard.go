package models

import "time"

type Dashboard struct {
	IdentityID string
	// Panels is an opaque JSON document owned by the UI.
	Panels    []byte
	UpdatedAt time.Time
}
