// Package privilege ranks tiers and answers whether one tier is sufficient
// for another. It has no state and performs no I/O.
package privilege

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

// Rank returns the position of t in the order viewer(1) < editor(2) < admin(3).
// TierNone and unknown tiers rank 0.
func Rank(t model.Tier) int {
	switch t {
	case model.TierViewer:
		return 1
	case model.TierEditor:
		return 2
	case model.TierAdmin:
		return 3
	}
	return 0
}

// Satisfies reports whether actual is sufficient for required.
// TierNone never satisfies anything.
func Satisfies(actual, required model.Tier) bool {
	if Rank(actual) == 0 {
		return false
	}
	return Rank(actual) >= Rank(required)
}

// Of returns the tier carried by rec, or TierNone for a nil record.
func Of(rec *model.PrivilegeRecord) model.Tier {
	if rec == nil {
		return model.TierNone
	}
	return rec.Tier
}

// ParseTier converts s (case-insensitive) into a tier.
func ParseTier(s string) (model.Tier, error) {
	t := model.Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return model.TierNone, fmt.Errorf("unknown tier %q (must be viewer, editor or admin)", s)
	}
	return t, nil
}
