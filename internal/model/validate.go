package model

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// MaxContentValueLen bounds one content section, in runes.
const MaxContentValueLen = 50000

// FieldError is one rejected field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every rejected field of one write. Handlers
// answer it with 400.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + " " + fe.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field was rejected.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) reject(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// ValidateStatusFields checks an availability update before it is written.
func ValidateStatusFields(f StatusFields) error {
	var ve ValidationError
	if f.Message != nil && utf8.RuneCountInString(*f.Message) > MaxMaintenanceMessageLen {
		ve.reject("message", "must be %d characters or fewer", MaxMaintenanceMessageLen)
	}
	return ve.orNil()
}

// ValidatePrivilegeRecord checks a role assignment. The email is optional
// and informational, but must parse as a bare address when present.
func ValidatePrivilegeRecord(r *PrivilegeRecord) error {
	var ve ValidationError
	if strings.TrimSpace(r.IdentityRef) == "" {
		ve.reject("identity_ref", "is required")
	}
	if !r.Tier.IsValid() {
		ve.reject("tier", "has invalid value %q", r.Tier)
	}
	if r.Email != "" {
		if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
			ve.reject("email", "must be a bare email address")
		}
	}
	return ve.orNil()
}

// ValidateContentValue checks the new value of a content section.
func ValidateContentValue(value string) error {
	var ve ValidationError
	if !utf8.ValidString(value) {
		ve.reject("value", "must be valid UTF-8")
	} else if utf8.RuneCountInString(value) > MaxContentValueLen {
		ve.reject("value", "must be %d characters or fewer", MaxContentValueLen)
	}
	return ve.orNil()
}
