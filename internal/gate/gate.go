// Package gate decides whether a protected screen may render for the
// current session.
package gate

import (
	"context"
	"sync"

	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/privilege"
	"github.com/alfredjeanlab/sitegate/internal/session"
)

// Paths the gate navigates to.
const (
	SignInPath  = "/admin/login"
	LandingPath = "/admin/dashboard"
)

// Decision is the outcome of evaluating a session against a required tier.
type Decision int

const (
	Loading Decision = iota
	Unauthenticated
	// Unprovisioned is a signed-in identity with no privilege record. It
	// renders an explicit denial and never navigates.
	Unprovisioned
	InsufficientPrivilege
	Authorized
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Unprovisioned:
		return "unprovisioned"
	case InsufficientPrivilege:
		return "insufficient_privilege"
	case Authorized:
		return "authorized"
	}
	return "unknown"
}

// Navigation is a redirect side effect. The zero value means stay.
type Navigation string

const (
	Stay      Navigation = ""
	ToSignIn  Navigation = SignInPath
	ToLanding Navigation = LandingPath
)

// Evaluate applies the gate rules in order. An empty required tier means
// viewer.
func Evaluate(s session.Snapshot, required model.Tier) Decision {
	if required == model.TierNone {
		required = model.TierViewer
	}
	switch {
	case s.Resolving:
		return Loading
	case s.Identity == nil:
		return Unauthenticated
	case s.Privilege == nil:
		return Unprovisioned
	case !privilege.Satisfies(s.Privilege.Tier, required):
		return InsufficientPrivilege
	}
	return Authorized
}

// navigationFor returns the side effect of arriving at d.
func navigationFor(d Decision) Navigation {
	switch d {
	case Unauthenticated:
		return ToSignIn
	case InsufficientPrivilege:
		return ToLanding
	}
	return Stay
}

// Gate tracks the last decision for one protected screen so navigation
// fires only on a transition, never on re-arrival at the same state.
type Gate struct {
	required model.Tier

	mu   sync.Mutex
	last Decision
}

// New returns a gate for the required tier, starting in Loading.
func New(required model.Tier) *Gate {
	if required == model.TierNone {
		required = model.TierViewer
	}
	return &Gate{required: required, last: Loading}
}

// Required returns the tier this gate protects.
func (g *Gate) Required() model.Tier { return g.required }

// Decision returns the most recent decision.
func (g *Gate) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Observe recomputes the decision for s. The navigation is non-empty only
// when the decision changed into a redirecting state.
func (g *Gate) Observe(s session.Snapshot) (Decision, Navigation) {
	d := Evaluate(s, g.required)

	g.mu.Lock()
	prev := g.last
	g.last = d
	g.mu.Unlock()

	metrics.GateDecisions.WithLabelValues(d.String()).Inc()
	if d == prev {
		return d, Stay
	}
	return d, navigationFor(d)
}

// Follow feeds every snapshot from updates through Observe and calls fn
// with the result until ctx is done or updates is closed.
func (g *Gate) Follow(ctx context.Context, updates <-chan session.Snapshot, fn func(Decision, Navigation)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			fn(g.Observe(s))
		}
	}
}
