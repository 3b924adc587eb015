package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/gate"
	"github.com/alfredjeanlab/sitegate/internal/menu"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/ui"
	"github.com/spf13/cobra"
)

// adminScreens are the protected screens whoami reports on, with the tier
// each one requires.
var adminScreens = []struct {
	Path     string
	Required model.Tier
}{
	{"/admin/dashboard", model.TierViewer},
	{"/admin/pages", model.TierEditor},
	{"/admin/maintenance", model.TierAdmin},
}

type whoamiResult struct {
	SignedIn    bool              `json:"signed_in"`
	IdentityRef string            `json:"identity_ref,omitempty"`
	Email       string            `json:"email,omitempty"`
	Tier        model.Tier        `json:"tier,omitempty"`
	Menu        []menu.Entry      `json:"menu"`
	Screens     map[string]string `json:"screens"`
}

func newResolver() *session.Resolver {
	return session.NewResolver(siteClient, siteClient, cliLogger())
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Short:   "Show the session behind the token, its tier and what it may open",
	GroupID: "session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := newResolver()
		defer r.Close()

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			path, _ := cmd.Flags().GetString("screen")
			required, ok := screenTier(path)
			if !ok {
				return fmt.Errorf("unknown screen %q", path)
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			watchSession(ctx, cmd.OutOrStdout(), r, required, interval)
			return nil
		}

		snap := r.Start(commandContext(cmd))

		res := whoamiResult{
			SignedIn: snap.SignedIn(),
			Tier:     snap.Tier(),
			Menu:     menu.Filter(menu.Default(), snap.Privilege),
			Screens:  make(map[string]string, len(adminScreens)),
		}
		if snap.Identity != nil {
			res.IdentityRef = snap.Identity.Ref
		}
		if snap.Privilege != nil {
			res.Email = snap.Privilege.Email
		}
		for _, s := range adminScreens {
			res.Screens[s.Path] = gate.Evaluate(snap, s.Required).String()
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		if !res.SignedIn {
			fmt.Fprintln(out, "not signed in")
			return nil
		}

		fmt.Fprintf(out, "Identity: %s\n", res.IdentityRef)
		if res.Email != "" {
			fmt.Fprintf(out, "Email:    %s\n", res.Email)
		}
		if res.Tier == model.TierNone {
			fmt.Fprintf(out, "Tier:     %s\n", ui.RenderAlert("none (not provisioned)"))
		} else {
			fmt.Fprintf(out, "Tier:     %s\n", res.Tier.Label())
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.RenderAccent("Menu:"))
		if len(res.Menu) == 0 {
			fmt.Fprintln(out, "  "+ui.RenderMuted("(empty)"))
		}
		for _, e := range res.Menu {
			fmt.Fprintf(out, "  %-18s %s\n", e.Label, ui.RenderMuted(e.Path))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.RenderAccent("Screens:"))
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, s := range adminScreens {
			decision := res.Screens[s.Path]
			if decision != gate.Authorized.String() {
				decision = ui.RenderAlert(decision)
			}
			fmt.Fprintf(tw, "  %s\t%s\n", s.Path, decision)
		}
		return tw.Flush()
	},
}

func screenTier(path string) (model.Tier, bool) {
	for _, s := range adminScreens {
		if s.Path == path {
			return s.Required, true
		}
	}
	return model.TierNone, false
}

// gateChange is one line of whoami --watch output.
type gateChange struct {
	At       time.Time `json:"at"`
	Decision string    `json:"decision"`
	Navigate string    `json:"navigate,omitempty"`
}

// watchSession re-resolves the session every interval and prints each
// change of the gate decision for a screen needing required, with the
// redirect a browser would follow. It returns when ctx is done.
func watchSession(ctx context.Context, out io.Writer, r *session.Resolver, required model.Tier, interval time.Duration) {
	updates, cancel := r.Watch()
	defer cancel()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			r.Start(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	g := gate.New(required)
	printed := gate.Loading
	g.Follow(ctx, settled(ctx, updates), func(d gate.Decision, nav gate.Navigation) {
		if d == printed || ctx.Err() != nil {
			return
		}
		printed = d
		change := gateChange{At: time.Now(), Decision: d.String(), Navigate: string(nav)}
		if jsonOutput {
			_ = json.NewEncoder(out).Encode(change)
			return
		}
		line := change.At.Local().Format(time.TimeOnly) + "  " + change.Decision
		if change.Navigate != "" {
			line += " -> " + change.Navigate
		}
		fmt.Fprintln(out, line)
	})
}

// settled forwards the snapshots that finished resolving. Periodic
// re-resolution would otherwise bounce the gate through Loading and
// repeat the redirect on every pass.
func settled(ctx context.Context, in <-chan session.Snapshot) <-chan session.Snapshot {
	out := make(chan session.Snapshot)
	go func() {
		defer close(out)
		for s := range in {
			if s.Resolving {
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Revoke the session token",
	GroupID: "session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := newResolver()
		defer r.Close()
		if snap := r.Start(commandContext(cmd)); !snap.SignedIn() {
			fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
			return nil
		}
		if err := <-r.SignOut(); err != nil {
			return fmt.Errorf("revoking session: %w", err)
		}
		if err := forgetActiveToken(token); err != nil {
			return fmt.Errorf("clearing stored token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

// forgetActiveToken drops tok from the active remote profile when it is
// the token stored there.
func forgetActiveToken(tok string) error {
	return updateRemotes(func(cfg *RemotesConfig) error {
		r, ok := cfg.Remotes[cfg.Active]
		if !ok || r.Token == "" || r.Token != tok {
			return nil
		}
		r.Token = ""
		cfg.Remotes[cfg.Active] = r
		return nil
	})
}

func init() {
	whoamiCmd.Flags().Bool("watch", false, "keep re-resolving and print every gate transition")
	whoamiCmd.Flags().String("screen", "/admin/dashboard", "screen whose gate --watch follows")
	whoamiCmd.Flags().Duration("interval", 30*time.Second, "re-resolution interval for --watch")
}
