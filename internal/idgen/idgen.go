// Package idgen generates short, URL-safe row and session identifiers.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Kind selects the prefix of a generated identifier so ids are
// recognizable in logs and audit details.
type Kind string

const (
	KindStatus  Kind = "st-"
	KindContent Kind = "pc-"
	KindAudit   Kind = "log-"
	KindSession Kind = "ses-"
	KindViewer  Kind = "vw-"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters after the prefix.
const Length = 12

// New returns a fresh identifier of the given kind.
func New(kind Kind) (string, error) {
	id, err := nanoid.Generate(alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return string(kind) + id, nil
}

// Must is New for callers that cannot recover from an entropy failure,
// such as test fixtures.
func Must(kind Kind) string {
	id, err := New(kind)
	if err != nil {
		panic(err)
	}
	return id
}
