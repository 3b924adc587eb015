package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/availability"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/gate"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/presence"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SiteHealthService is the gRPC health service name that reports
// NOT_SERVING while the public site is in maintenance.
const SiteHealthService = "sitegate.Site"

// Options configures a SiteServer.
type Options struct {
	// Store is the raw store. Writes are routed through the policy guard.
	Store store.Store

	// Publisher emits committed changes. Feed delivers them back, from this
	// instance and every other one. When both are nil an in-process bus is
	// used for both.
	Publisher events.Publisher
	Feed      events.Subscriber

	Tokens     *session.Tokens
	Authorizer *authz.Authorizer

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool

	Logger *slog.Logger
}

// SiteServer serves the public site, the admin screens and the JSON API.
type SiteServer struct {
	store     store.Store // guarded
	publisher events.Publisher
	authz     *authz.Authorizer
	tokens    *session.Tokens
	sessions  *session.HTTPResolver
	gate      *gate.Middleware
	sseHub    *sseHub
	pages     *template.Template
	logger    *slog.Logger

	cookieSecure bool

	Availability *availability.Broadcaster
	Presence     *presence.Tracker
	Health       *health.Server

	statusSub *availability.Subscription
}

// New wires the server. Call Start before serving and Close on shutdown.
func New(opts Options) (*SiteServer, error) {
	if opts.Store == nil || opts.Tokens == nil || opts.Authorizer == nil {
		return nil, errors.New("server: store, tokens and authorizer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub, feed := opts.Publisher, opts.Feed
	if pub == nil && feed == nil {
		bus := events.NewMemoryBus()
		pub, feed = bus, bus
	}
	if pub == nil {
		return nil, errors.New("server: a feed requires a publisher")
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	guarded := authz.Guard(opts.Store, opts.Authorizer)
	s := &SiteServer{
		store:     guarded,
		publisher: pub,
		authz:     opts.Authorizer,
		tokens:    opts.Tokens,
		sessions: &session.HTTPResolver{
			Tokens:     opts.Tokens,
			Privileges: opts.Store,
			Logger:     logger,
		},
		sseHub:       newSSEHub(),
		pages:        pages,
		logger:       logger,
		cookieSecure: opts.CookieSecure,
		Availability: availability.New(availability.Notify(guarded, pub, logger), feed, logger),
		Presence:     presence.New(logger),
		Health:       health.NewServer(),
	}
	s.gate = &gate.Middleware{
		Resolver: s.sessions,
		Denied:   http.HandlerFunc(s.handleDenied),
		Logger:   logger,
	}
	s.Health.SetServingStatus(SiteHealthService, healthpb.HealthCheckResponse_SERVING)
	s.statusSub = s.Availability.Subscribe(s.onAvailability)
	return s, nil
}

// Start subscribes to availability pushes and loads the current status.
// A failed initial fetch is logged and the site stays available.
func (s *SiteServer) Start(ctx context.Context) error {
	return s.Availability.Start(ctx)
}

// Close stops the availability feed and the viewer reaper and marks the
// health service down.
func (s *SiteServer) Close() {
	s.statusSub.Close()
	s.Availability.Close()
	s.Presence.Stop()
	s.Health.Shutdown()
}

// onAvailability fans each distinct availability change out to stream
// clients and the gRPC health service.
func (s *SiteServer) onAvailability(a model.Availability) {
	row := s.Availability.Status()
	row.Unavailable = a.Unavailable
	row.Message = a.Message
	row.Version = a.Version
	row.LastUpdated = a.LastUpdated
	s.broadcastEvent(events.TopicStatusUpdated, events.StatusUpdated{Status: row})

	st := healthpb.HealthCheckResponse_SERVING
	if a.Unavailable {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.Health.SetServingStatus(SiteHealthService, st)
}

// recordAudit appends an admin log entry. It is best-effort; failures are
// logged and never fail the caller.
func (s *SiteServer) recordAudit(ctx context.Context, action, actor string, details any) {
	raw, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("failed to marshal audit details", "action", action, "error", err)
		return
	}
	if err := s.store.RecordAudit(ctx, &model.AuditEntry{
		Action:      action,
		Details:     raw,
		PerformedBy: actor,
	}); err != nil {
		s.logger.Warn("failed to record audit entry", "action", action, "error", err)
	}
}

// recordAndPublish records the audit entry, publishes the event on the bus
// and fans it out to local stream clients. Every step is best-effort.
func (s *SiteServer) recordAndPublish(ctx context.Context, topic, action, actor string, details, event any) {
	s.recordAudit(ctx, action, actor, details)
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
	s.broadcastEvent(topic, event)
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }
