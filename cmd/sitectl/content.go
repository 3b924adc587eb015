package main

import (
	"fmt"

	"github.com/alfredjeanlab/sitegate/internal/client"
	"github.com/alfredjeanlab/sitegate/internal/content"
	"github.com/spf13/cobra"
)

var contentCmd = &cobra.Command{
	Use:     "content",
	Short:   "Read and edit the editable sections of public pages",
	GroupID: "site",
}

var contentListCmd = &cobra.Command{
	Use:   "list <page>",
	Short: "List the sections of a page in display order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := content.New(siteClient, args[0], cliLogger())
		defer cache.Close()
		cache.Refetch(commandContext(cmd))
		if err := cache.Err(); err != nil {
			return err
		}

		entries := cache.Entries()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printContentTable(cmd.OutOrStdout(), entries)
		return nil
	},
}

var contentGetCmd = &cobra.Command{
	Use:   "get <page> <section>",
	Short: "Print the value of one section",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := content.New(siteClient, args[0], cliLogger())
		defer cache.Close()
		cache.Refetch(commandContext(cmd))
		if err := cache.Err(); err != nil {
			return err
		}
		for _, e := range cache.Entries() {
			if e.SectionKey == args[1] {
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), e)
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.Value)
				return nil
			}
		}
		return fmt.Errorf("page %q has no section %q", args[0], args[1])
	},
}

var contentSetCmd = &cobra.Command{
	Use:   "set <entry-id> <value>",
	Short: "Replace the value of one entry (editor)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := siteClient.UpdateContent(commandContext(cmd), args[0], args[1])
		if err != nil {
			if client.IsUnauthorized(err) {
				return fmt.Errorf("editing content requires an editor session: %w", err)
			}
			return fmt.Errorf("updating content: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entry)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s (%s / %s)\n", entry.ID, entry.PageName, entry.SectionKey)
		return nil
	},
}

func init() {
	contentCmd.AddCommand(contentListCmd)
	contentCmd.AddCommand(contentGetCmd)
	contentCmd.AddCommand(contentSetCmd)
}
