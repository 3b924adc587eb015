package model

import (
	"encoding/json"
	"time"
)

// Audit actions recorded in the admin log.
const (
	ActionAvailabilityUpdated = "availability.updated"
	ActionContentUpdated      = "content.updated"
	ActionSessionRevoked      = "session.revoked"
	ActionPrivilegeGranted    = "privilege.granted"
	ActionPrivilegeRevoked    = "privilege.revoked"
)

// AuditEntry is one row of the admin log.
type AuditEntry struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Details     json.RawMessage `json:"details,omitempty"`
	PerformedBy string          `json:"performed_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
