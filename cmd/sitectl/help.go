package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/alfredjeanlab/sitegate/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule restyles every match of re in Cobra's plain help text.
type helpRule struct {
	re    *regexp.Regexp
	style func(groups []string) string
}

// helpRules are applied in order. Headers go first so later rules never
// see their escape codes.
var helpRules = []helpRule{
	// Section headers: "Site:", "Flags:", "Global Flags:".
	{
		re:    regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`),
		style: func(g []string) string { return ui.RenderAccent(g[1]) },
	},
	// Subcommand names: two-space indent, the name, then padding.
	{
		re:    regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  +)`),
		style: func(g []string) string { return g[1] + ui.RenderCommand(g[2]) + g[3] },
	},
	// Flag value types: "--url string", "--limit int".
	{
		re:    regexp.MustCompile(`(--[\w-]+ )(string|int|duration|stringSlice)\b`),
		style: func(g []string) string { return g[1] + ui.RenderMuted(g[2]) },
	},
	// Defaults: (default "http://localhost:8080"), (default 50).
	{
		re:    regexp.MustCompile(`\(default [^)]*\)`),
		style: func(g []string) string { return ui.RenderMuted(g[0]) },
	},
}

// colorizedHelpFunc returns a Cobra help function that styles the default
// help text when stdout supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			cmd.SetOut(out)
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

// colorizeHelpOutput applies helpRules to s.
func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.style(r.re.FindStringSubmatch(match))
		})
	}
	return s
}
