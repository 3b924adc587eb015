package model

// Tier is a privilege level. Tiers form a total order:
// viewer < editor < admin. TierNone stands for "no privilege record".
type Tier string

const (
	TierNone   Tier = ""
	TierViewer Tier = "viewer"
	TierEditor Tier = "editor"
	TierAdmin  Tier = "admin"
)

// Tiers lists every real tier in ascending order.
var Tiers = []Tier{TierViewer, TierEditor, TierAdmin}

// String returns the string representation of the tier.
func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return string(t)
}

// IsValid reports whether t is one of the three real tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierViewer, TierEditor, TierAdmin:
		return true
	}
	return false
}

// Label is the capitalized display form used by the admin header badge.
func (t Tier) Label() string {
	switch t {
	case TierViewer:
		return "Viewer"
	case TierEditor:
		return "Editor"
	case TierAdmin:
		return "Admin"
	}
	return ""
}
