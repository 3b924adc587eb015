package main

import (
	"errors"
	"fmt"

	sitesync "github.com/alfredjeanlab/sitegate/internal/sync"
	"github.com/spf13/cobra"
)

var backupStdout bool

var backupCmd = &cobra.Command{
	Use:     "backup",
	Short:   "Export the site state once",
	Long:    "Export the site status, roles, page content and admin log as JSONL to the configured sync destinations, or to stdout.",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, cfg, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if backupStdout {
			return sitesync.ExportJSONL(ctx, st, cmd.OutOrStdout())
		}

		logger := newLogger()
		dests := syncDestinations(ctx, cfg, logger)
		if len(dests) == 0 {
			return errors.New("no sync destination configured (set SITEGATE_SYNC_S3_BUCKET or SITEGATE_SYNC_GIT_REPO, or use --stdout)")
		}
		if err := sitesync.NewScheduler(st, dests, cfg.SyncInterval, logger).RunOnce(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup written to %d destinations\n", len(dests))
		return nil
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "write the export to stdout instead of the sync destinations")
}
