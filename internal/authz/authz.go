// Package authz evaluates store-level write rules with Cedar policies.
package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cedar-policy/cedar-go"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

//go:embed policies.cedar
var policiesContent []byte

// Action names a guarded operation.
type Action string

const (
	ActionSiteStatusUpdate Action = "site_status:update"
	ActionContentUpdate    Action = "content:update"
	ActionAuditRead        Action = "audit:read"
	ActionViewersRead      Action = "viewers:read"
)

// Resource types.
const (
	ResourceSiteStatus = "SiteStatus"
	ResourcePage       = "PageContent"
	ResourceAuditLog   = "AuditLog"
)

// ErrForbidden is returned when a policy denies the caller.
var ErrForbidden = errors.New("forbidden")

// Principal is the identity performing a guarded operation.
type Principal struct {
	IdentityRef string
	Tier        model.Tier
}

// Decision is the result of one authorization check.
type Decision struct {
	Allowed  bool
	Reason   string
	PolicyID string
	Duration time.Duration
}

// Config contains options for the Authorizer.
type Config struct {
	// Logger for decision logging. If nil, uses slog.Default().
	Logger *slog.Logger

	// PolicyBytes overrides the embedded policies.
	PolicyBytes []byte
}

// Authorizer wraps the Cedar policy engine.
type Authorizer struct {
	policies *cedar.PolicySet
	logger   *slog.Logger
}

func NewAuthorizer(cfg Config) (*Authorizer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	data := cfg.PolicyBytes
	if data == nil {
		data = policiesContent
	}
	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}
	return &Authorizer{policies: ps, logger: logger}, nil
}

// Authorize evaluates p performing action on the resource.
func (a *Authorizer) Authorize(_ context.Context, p Principal, action Action, resourceType, resourceID string) Decision {
	start := time.Now()

	principalUID := cedar.NewEntityUID("Sitegate::Identity", cedar.String(p.IdentityRef))
	resourceUID := cedar.NewEntityUID(cedar.EntityType("Sitegate::"+resourceType), cedar.String(resourceID))

	entities := cedar.EntityMap{
		principalUID: cedar.Entity{
			UID:     principalUID,
			Parents: cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"tier": cedar.String(string(p.Tier)),
			}),
		},
		resourceUID: cedar.Entity{
			UID:        resourceUID,
			Parents:    cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{}),
		},
	}
	req := cedar.Request{
		Principal: principalUID,
		Action:    cedar.NewEntityUID("Sitegate::Action", cedar.String(string(action))),
		Resource:  resourceUID,
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	decision, diag := cedar.Authorize(a.policies, entities, req)

	d := Decision{Allowed: decision == cedar.Allow, Duration: time.Since(start)}
	if len(diag.Reasons) > 0 {
		d.PolicyID = string(diag.Reasons[0].PolicyID)
	}
	if d.Allowed {
		d.Reason = "access permitted"
	} else {
		d.Reason = "access denied - no matching permit policy"
	}

	a.logger.Debug("authorization decision",
		"principal", p.IdentityRef,
		"tier", p.Tier.String(),
		"action", string(action),
		"resource", resourceType+":"+resourceID,
		"decision", d.Allowed,
		"policy_id", d.PolicyID,
		"duration_us", d.Duration.Microseconds(),
	)
	for _, err := range diag.Errors {
		a.logger.Error("policy evaluation error", "policy", err.PolicyID, "error", err.Message)
	}
	return d
}

// Check authorizes the principal carried by ctx and returns ErrForbidden
// on denial or when ctx has no principal.
func (a *Authorizer) Check(ctx context.Context, action Action, resourceType, resourceID string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no principal for %s", ErrForbidden, action)
	}
	if d := a.Authorize(ctx, p, action, resourceType, resourceID); !d.Allowed {
		return fmt.Errorf("%w: %s on %s", ErrForbidden, action, resourceType)
	}
	return nil
}
