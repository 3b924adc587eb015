package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/alfredjeanlab/sitegate/internal/availability"
	"github.com/alfredjeanlab/sitegate/internal/client"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/ui"
	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:     "maintenance",
	Short:   "Show or change the site-wide maintenance notice",
	GroupID: "site",
}

var maintenanceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the site is serving the maintenance notice",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := siteClient.GetSingleton(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("fetching availability: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printAvailability(cmd.OutOrStdout(), st)
		return nil
	},
}

var maintenanceOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Put the site into maintenance (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, _ := cmd.Flags().GetString("message")
		var message *string
		if msg != "" {
			message = &msg
		}
		return setAvailability(cmd, true, message)
	},
}

var maintenanceOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Bring the site back (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAvailability(cmd, false, nil)
	},
}

func setAvailability(cmd *cobra.Command, unavailable bool, message *string) error {
	if utf8.RuneCountInString(derefOr(message)) > model.MaxMaintenanceMessageLen {
		return fmt.Errorf("message is longer than %d characters", model.MaxMaintenanceMessageLen)
	}
	st, err := siteClient.SetAvailability(commandContext(cmd), unavailable, message)
	if err != nil {
		if client.IsUnauthorized(err) {
			return fmt.Errorf("changing availability requires an admin session: %w", err)
		}
		return fmt.Errorf("updating availability: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), st)
	}
	printAvailability(cmd.OutOrStdout(), st)
	return nil
}

var maintenanceWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow availability changes as they are pushed",
	Long: `Follow availability changes as they are pushed.

The site's SSE stream is used unless a NATS URL is configured for the
active remote (or SITEGATE_NATS_URL is set), in which case the event bus
is followed directly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := cliLogger()
		feed, err := watchFeed(logger)
		if err != nil {
			return err
		}
		defer feed.Close()

		b := availability.New(siteClient, feed, logger)
		defer b.Close()

		p := &availabilityPrinter{w: cmd.OutOrStdout(), json: jsonOutput}
		sub := b.Subscribe(p.print)
		defer sub.Close()

		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("starting watch: %w", err)
		}
		p.print(b.Read())

		<-ctx.Done()
		return nil
	},
}

// watchFeed picks the push channel for watch.
func watchFeed(logger *slog.Logger) (events.Subscriber, error) {
	if natsURL := activeRemoteNATSURL(); natsURL != "" {
		sub, err := events.NewNATSSubscriber(natsURL)
		if err != nil {
			return nil, err
		}
		sub.SetLogger(logger)
		logger.Info("following availability over NATS", "url", natsURL)
		return sub, nil
	}
	logger.Info("following availability over SSE", "url", siteURL)
	return client.NewStreamSubscriber(siteURL, token, logger), nil
}

// availabilityPrinter prints each distinct value once, whether it comes
// from the initial read or from a push.
type availabilityPrinter struct {
	w    io.Writer
	json bool

	mu      sync.Mutex
	printed bool
	last    model.Availability
}

func (p *availabilityPrinter) print(a model.Availability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed && a.SameValue(p.last) {
		return
	}
	p.printed, p.last = true, a

	if p.json {
		_ = printJSON(p.w, a)
		return
	}
	fmt.Fprintf(p.w, "%s  %s\n", ui.RenderMuted(time.Now().Format(timeLayout)), availabilityLine(a))
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	maintenanceOnCmd.Flags().StringP("message", "m", "", "notice shown to visitors (default notice when empty)")

	maintenanceCmd.AddCommand(maintenanceStatusCmd)
	maintenanceCmd.AddCommand(maintenanceOnCmd)
	maintenanceCmd.AddCommand(maintenanceOffCmd)
	maintenanceCmd.AddCommand(maintenanceWatchCmd)
}
