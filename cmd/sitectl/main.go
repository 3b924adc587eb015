package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alfredjeanlab/sitegate/internal/client"
	"github.com/alfredjeanlab/sitegate/internal/ui"
	"github.com/spf13/cobra"
)

var (
	siteURL    string
	token      string
	jsonOutput bool
	noColor    bool
	verbose    bool

	siteClient *client.HTTPClient
)

func defaultSiteURL() string {
	if s := os.Getenv("SITEGATE_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("SITEGATE_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

// cliLogger logs client-side components (broadcaster, resolver) to stderr
// only with --verbose.
func cliLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var rootCmd = &cobra.Command{
	Use:           "sitectl <command>",
	Short:         "Operate a sitegate site: maintenance notice, page content and sessions",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		siteClient = client.NewHTTPClient(siteURL, token)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if siteClient != nil {
			siteClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&siteURL, "url", defaultSiteURL(), "site base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "session token (bearer)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "site", Title: "Site:"},
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Site
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(contentCmd)

	// Session
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(logoutCmd)

	// System
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(viewersCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
