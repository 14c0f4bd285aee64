package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for ledger-owned rows. Account, role, and
// community identities are owned by the external platform and only referenced.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
