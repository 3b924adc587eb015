package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	remoteToken string
	remoteNATS  string
	remoteGRPC  string
	remoteUse   bool
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage named site profiles",
	GroupID: "system",
	// Profiles are local files; no client is needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or replace a site profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		siteURL, err := normalizeSiteURL(args[1])
		if err != nil {
			return err
		}
		err = updateRemotes(func(cfg *RemotesConfig) error {
			cfg.Remotes[name] = Remote{URL: siteURL, Token: remoteToken, NATSURL: remoteNATS, GRPCAddr: remoteGRPC}
			if remoteUse || len(cfg.Remotes) == 1 {
				cfg.Active = name
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "site %s -> %s\n", name, siteURL)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a site profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if _, err := cfg.lookup(name); err != nil {
				return err
			}
			delete(cfg.Remotes, name)
			if cfg.Active == name {
				cfg.Active = ""
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
		return nil
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a site profile the default for every command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if _, err := cfg.lookup(name); err != nil {
				return err
			}
			cfg.Active = name
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "using %s\n", name)
		return nil
	},
}

var remoteLoginCmd = &cobra.Command{
	Use:   "login <name> [<token>]",
	Short: "Store a session token on a site profile, or clear it when omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, tok := args[0], ""
		if len(args) == 2 {
			tok = args[1]
		}
		err := updateRemotes(func(cfg *RemotesConfig) error {
			r, err := cfg.lookup(name)
			if err != nil {
				return err
			}
			r.Token = tok
			cfg.Remotes[name] = r
			return nil
		})
		if err != nil {
			return err
		}
		if tok == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "token cleared for %s\n", name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "token stored for %s (%s)\n", name, maskToken(tok, 8, ""))
		}
		return nil
	},
}

// remoteView is the JSON shape of a profile. Tokens are never printed whole.
type remoteView struct {
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	URL      string `json:"url"`
	Token    string `json:"token,omitempty"`
	NATSURL  string `json:"nats_url,omitempty"`
	GRPCAddr string `json:"grpc_addr,omitempty"`
}

func viewRemote(cfg RemotesConfig, name string, r Remote) remoteView {
	return remoteView{
		Name:     name,
		Active:   name == cfg.Active,
		URL:      r.URL,
		Token:    maskToken(r.Token, 8, "*"),
		NATSURL:  r.NATSURL,
		GRPCAddr: r.GRPCAddr,
	}
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List site profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		names := slices.Sorted(maps.Keys(cfg.Remotes))
		if jsonOutput {
			views := make([]remoteView, 0, len(names))
			for _, name := range names {
				views = append(views, viewRemote(cfg, name, cfg.Remotes[name]))
			}
			return printJSON(cmd.OutOrStdout(), views)
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no sites configured; add one with 'sitectl remote add <name> <url>'")
			return nil
		}
		printRemoteTable(cmd.OutOrStdout(), cfg, names)
		return nil
	},
}

func printRemoteTable(w io.Writer, cfg RemotesConfig, names []string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tURL\tTOKEN\tFEED")
	for _, name := range names {
		r := cfg.Remotes[name]
		marker := "  "
		if name == cfg.Active {
			marker = "* "
		}
		tok := maskToken(r.Token, 8, "")
		if tok == "" {
			tok = "-"
		}
		feed := "sse"
		if r.NATSURL != "" {
			feed = "nats"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", marker, name, r.URL, tok, feed)
	}
	tw.Flush()
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show a site profile (defaults to the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		if name, err = cfg.resolve(name); err != nil {
			return err
		}
		r, err := cfg.lookup(name)
		if err != nil {
			return err
		}
		v := viewRemote(cfg, name, r)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), v)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		title := v.Name
		if v.Active {
			title += " (active)"
		}
		fmt.Fprintf(tw, "name:\t%s\n", title)
		fmt.Fprintf(tw, "url:\t%s\n", v.URL)
		for _, kv := range [][2]string{{"token", v.Token}, {"nats_url", v.NATSURL}, {"grpc_addr", v.GRPCAddr}} {
			if kv[1] != "" {
				fmt.Fprintf(tw, "%s:\t%s\n", kv[0], kv[1])
			}
		}
		return tw.Flush()
	},
}

func init() {
	remoteAddCmd.Flags().StringVar(&remoteToken, "token", "", "session token for authentication")
	remoteAddCmd.Flags().StringVar(&remoteNATS, "nats", "", "NATS URL for following availability")
	remoteAddCmd.Flags().StringVar(&remoteGRPC, "grpc", "", "gRPC address for health checks")
	remoteAddCmd.Flags().BoolVar(&remoteUse, "use", false, "make this the active site")

	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteUseCmd, remoteLoginCmd, remoteListCmd, remoteShowCmd)
}
