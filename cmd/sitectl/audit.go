package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	Short:   "Show recent availability, content and session changes (admin)",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := siteClient.ListAudit(commandContext(cmd), limit)
		if err != nil {
			return fmt.Errorf("listing audit log: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no changes recorded")
			return nil
		}
		printAuditTable(cmd.OutOrStdout(), entries)
		return nil
	},
}

var viewersCmd = &cobra.Command{
	Use:     "viewers",
	Short:   "List open availability streams (admin)",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		viewers, err := siteClient.Viewers(commandContext(cmd), stale)
		if err != nil {
			return fmt.Errorf("listing viewers: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), viewers)
		}
		printViewersTable(cmd.OutOrStdout(), viewers)
		return nil
	},
}

func init() {
	auditCmd.Flags().Int("limit", 50, "number of entries to show (max 500)")
	viewersCmd.Flags().Duration("stale", 0, "hide viewers idle longer than this (server default when 0)")
}
