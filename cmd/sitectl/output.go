package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/presence"
	"github.com/alfredjeanlab/sitegate/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// availabilityLine is the one-line summary used by status and watch.
func availabilityLine(a model.Availability) string {
	if !a.Unavailable {
		return ui.RenderAvailability(false, "available")
	}
	line := ui.RenderAvailability(true, "unavailable")
	if a.Message != nil {
		line += ": " + *a.Message
	}
	return line
}

func printAvailability(w io.Writer, st *model.SiteStatus) {
	fmt.Fprintf(w, "Site:         %s\n", availabilityLine(st.Availability()))
	if st.Message != nil {
		fmt.Fprintf(w, "Message:      %s\n", *st.Message)
	}
	if !st.LastUpdated.IsZero() {
		fmt.Fprintf(w, "Last Updated: %s\n", st.LastUpdated.Local().Format(timeLayout))
	}
}

func printContentTable(w io.Writer, entries []model.ContentEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPAGE\tSECTION\tTYPE\tVALUE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.PageName, e.SectionKey, e.ContentType, truncate(e.Value, valueColumnWidth()))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d entries\n", len(entries))
}

func printAuditTable(w io.Writer, entries []*model.AuditEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tBY\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(timeLayout),
			e.Action,
			e.PerformedBy,
			truncate(string(e.Details), 60),
		)
	}
	tw.Flush()
}

func printViewersTable(w io.Writer, viewers []presence.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VIEWER\tIDENTITY\tTIER\tCONNECTED\tIDLE\tDELIVERIES")
	for _, v := range viewers {
		identity := v.IdentityRef
		if identity == "" {
			identity = ui.RenderMuted("anonymous")
		}
		idle := (time.Duration(v.IdleSecs) * time.Second).String()
		if v.Reaped {
			idle = ui.RenderAlert("dead")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			v.ViewerID,
			identity,
			v.Tier,
			(time.Duration(v.DurationSecs) * time.Second).String(),
			idle,
			v.Deliveries,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d viewers\n", len(viewers))
}

// valueColumnWidth sizes the free-text column to the terminal, leaving
// room for the fixed columns before it.
func valueColumnWidth() int {
	return max(20, ui.Width(120)-70)
}

// truncate shortens s to max runes and collapses newlines.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
