package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/client"
	"github.com/alfredjeanlab/sitegate/internal/ui"
	"github.com/spf13/cobra"
)

// siteHealthService is the gRPC health service that follows availability.
const siteHealthService = "sitegate.Site"

type healthResult struct {
	Status          string `json:"status"`
	SiteUnavailable bool   `json:"site_unavailable"`
	GRPC            string `json:"grpc,omitempty"`
	GRPCSite        string `json:"grpc_site,omitempty"`
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the site server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		status, err := siteClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		res := healthResult{Status: status.Status, SiteUnavailable: status.SiteUnavailable}

		if checkGRPC, _ := cmd.Flags().GetBool("grpc"); checkGRPC {
			addr, _ := cmd.Flags().GetString("grpc-addr")
			if addr == "" {
				addr = activeRemoteGRPCAddr()
			}
			if err := checkGRPCHealth(cmd, addr, &res); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, res); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Health: %s\n", res.Status)
			site := "available"
			if res.SiteUnavailable {
				site = "maintenance"
			}
			site = ui.RenderAvailability(res.SiteUnavailable, site)
			fmt.Fprintf(out, "Site:   %s\n", site)
			if res.GRPC != "" {
				fmt.Fprintf(out, "gRPC:   %s (site %s)\n", res.GRPC, res.GRPCSite)
			}
		}

		if res.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", res.Status)
		}
		return nil
	},
}

func checkGRPCHealth(cmd *cobra.Command, addr string, res *healthResult) error {
	c, err := client.NewGRPCHealthClient(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := commandContext(cmd)
	for _, check := range []struct {
		service string
		into    *string
	}{
		{"", &res.GRPC},
		{siteHealthService, &res.GRPCSite},
	} {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		st, err := c.Check(callCtx, check.service)
		cancel()
		if err != nil {
			return fmt.Errorf("gRPC health check at %s: %w", addr, err)
		}
		*check.into = st.String()
	}
	return nil
}

func init() {
	healthCmd.Flags().Bool("grpc", false, "also query the gRPC health service")
	healthCmd.Flags().String("grpc-addr", "", "gRPC address (default from the active remote, or localhost:9090)")
}
