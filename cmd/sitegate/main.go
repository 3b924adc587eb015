package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	debug      bool
)

// newLogger returns the process logger. Everything goes to stderr so
// command output on stdout stays clean.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var rootCmd = &cobra.Command{
	Use:          "sitegate <command>",
	Short:        "Site availability gate server and offline administration",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	cobra.EnableCommandSorting = false

	// Server
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)

	// Administration
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeRoleCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
