package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/config"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/hooks"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/presence"
	"github.com/alfredjeanlab/sitegate/internal/server"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store"
	sitesync "github.com/alfredjeanlab/sitegate/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var bootstrapAdmin string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the HTTP and gRPC servers",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return err
		}
		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			httpLis.Close()
			return err
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, httpLis, grpcLis, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&bootstrapAdmin, "bootstrap-admin", "", "with the memory store, grant admin to this identity ref and print a session token")
}

// serve runs the site until ctx is cancelled, then shuts every component
// down in reverse order.
func serve(ctx context.Context, cfg *config.Config, httpLis, grpcLis net.Listener, logger *slog.Logger) error {
	// serve owns the listeners.
	defer httpLis.Close()
	defer grpcLis.Close()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}()

	// Event bus. Without NATS a single in-process bus serves as both ends.
	var (
		publisher events.Publisher
		feed      events.Subscriber
	)
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer pub.Close()
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer sub.Close()
		sub.SetLogger(logger)
		publisher, feed = pub, sub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		bus := events.NewMemoryBus()
		defer bus.Close()
		publisher, feed = bus, bus
		logger.Info("events in-process (SITEGATE_NATS_URL not set)")
	}

	tokens, err := session.NewTokens(cfg.SessionSecret, cfg.SessionTTL, st)
	if err != nil {
		return err
	}
	if bootstrapAdmin != "" {
		if err := runBootstrapAdmin(ctx, cfg, st, tokens, bootstrapAdmin); err != nil {
			return err
		}
	}

	az, err := authz.NewAuthorizer(authz.Config{Logger: logger})
	if err != nil {
		return err
	}
	site, err := server.New(server.Options{
		Store:        st,
		Publisher:    publisher,
		Feed:         feed,
		Tokens:       tokens,
		Authorizer:   az,
		CookieSecure: cfg.CookieSecure,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer site.Close()
	if err := site.Start(ctx); err != nil {
		return err
	}

	site.Presence.StartReaper(presence.ReaperConfig{
		DeadThreshold: cfg.PresenceDeadThreshold,
		OnDead: func(viewerID, identityRef string) {
			logger.Info("stream viewer went silent", "viewer", viewerID, "identity", identityRef)
		},
	})

	if scheduler := newScheduler(ctx, cfg, st, logger); scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HookCommand != "" {
		h := hooks.NewHandler(cfg.HookCommand, cfg.HookTimeout, logger)
		g.Go(func() error { return h.StartSubscriber(gctx, feed) })
	}

	grpcServer := server.NewGRPCServer(site)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
		return grpcServer.Serve(grpcLis)
	})

	// Request contexts derive from reqCtx so open event streams end when
	// shutdown begins instead of holding Shutdown until its deadline.
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	httpServer := &http.Server{
		Handler:           site.NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		site.Health.Shutdown()
		cancelRequests()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
			httpServer.Close()
		}
		logger.Info("HTTP server stopped")

		// Health watchers keep gRPC streams open; fall back to a hard stop.
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		logger.Info("gRPC server stopped")
		return nil
	})

	logger.Info("sitegate started",
		"http_addr", httpLis.Addr().String(),
		"grpc_addr", grpcLis.Addr().String(),
	)
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// newScheduler builds the backup scheduler, or returns nil when backups
// are disabled or no destination is configured.
func newScheduler(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) *sitesync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	dests := syncDestinations(ctx, cfg, logger)
	if len(dests) == 0 {
		return nil
	}
	return sitesync.NewScheduler(st, dests, cfg.SyncInterval, logger)
}

func syncDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []sitesync.Destination {
	var dests []sitesync.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := sitesync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, sitesync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	return dests
}

// runBootstrapAdmin seeds an admin into a fresh memory store and prints a
// token for it, so a development server is usable without postgres.
func runBootstrapAdmin(ctx context.Context, cfg *config.Config, st store.Store, tokens *session.Tokens, ref string) error {
	if !cfg.MemoryStore {
		return fmt.Errorf("--bootstrap-admin requires SITEGATE_MEMORY_STORE=true; use 'sitegate grant' for postgres")
	}
	ref, err := session.ParseIdentityRef(ref)
	if err != nil {
		return err
	}
	if err := st.SetPrivilege(ctx, &model.PrivilegeRecord{IdentityRef: ref, Tier: model.TierAdmin}); err != nil {
		return err
	}
	token, _, err := tokens.Issue(ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "bootstrap admin %s\nSITEGATE_TOKEN=%s\n", ref, token)
	return nil
}
