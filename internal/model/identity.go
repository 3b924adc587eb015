package model

import "time"

// Identity is the opaque reference to a signed-in principal. Its lifecycle
// belongs to the credential provider; the gate only observes it.
type Identity struct {
	Ref       string    `json:"ref"`
	SessionID string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// PrivilegeRecord maps an identity to its tier. One record per identity.
type PrivilegeRecord struct {
	IdentityRef string    `json:"identity_ref"`
	Email       string    `json:"email,omitempty"`
	Tier        Tier      `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
}
