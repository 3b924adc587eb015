// Package ui styles sitectl output with 256-color ANSI escapes.
package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorAlert  = 203 // red
	colorOK     = 114 // green
)

var noColor bool

func paint(code int, s string) string {
	if noColor || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent styles section headers and identities.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted styles secondary detail such as timestamps and defaults.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand styles subcommand names in help output.
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderAlert styles the maintenance notice and denied gate decisions.
func RenderAlert(s string) string { return paint(colorAlert, s) }

// RenderOK styles an available site and authorized decisions.
func RenderOK(s string) string { return paint(colorOK, s) }

// RenderAvailability picks the style for a site state.
func RenderAvailability(unavailable bool, s string) string {
	if unavailable {
		return RenderAlert(s)
	}
	return RenderOK(s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
