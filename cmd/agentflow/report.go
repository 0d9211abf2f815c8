package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/agentflow/internal/session"
)

const maxResultPreview = 200

var (
	colorOK      = color.New(color.FgGreen, color.Bold)
	colorFail    = color.New(color.FgRed, color.Bold)
	colorBlocked = color.New(color.FgYellow)
	colorDim     = color.New(color.Faint)
)

// printReport writes a human-readable summary of a finished session.
func printReport(w io.Writer, r *session.Report) {
	p := r.Progress

	fmt.Fprintf(w, "\nSession %s finished in %v\n", r.SessionID, r.Elapsed().Round(time.Millisecond))
	fmt.Fprintf(w, "  %s completed  %s failed  %s blocked  %s cancelled  (%d total)\n\n",
		colorOK.Sprint(p.Completed),
		colorFail.Sprint(p.Failed),
		colorBlocked.Sprint(p.Blocked),
		colorDim.Sprint(p.Cancelled),
		p.Total)

	for _, t := range r.Completed {
		fmt.Fprintf(w, "%s %s %s\n", colorOK.Sprint("✓"), t.ID, colorDim.Sprintf("(%s on %s, %v)", t.Role, t.AgentID, t.Duration.Round(time.Millisecond)))
		if preview := resultPreview(t.Result); preview != "" {
			fmt.Fprintf(w, "    %s\n", colorDim.Sprint(preview))
		}
	}
	for _, t := range r.Failed {
		fmt.Fprintf(w, "%s %s %s\n", colorFail.Sprint("✗"), t.ID, colorDim.Sprintf("(%s, %d attempt(s))", t.Role, t.Attempts))
		if t.Error != nil {
			fmt.Fprintf(w, "    %v\n", t.Error)
		}
	}
	for _, t := range r.Blocked {
		fmt.Fprintf(w, "%s %s blocked by %s\n", colorBlocked.Sprint("⊘"), t.ID, t.BlockedBy)
	}
	for _, t := range r.Cancelled {
		fmt.Fprintf(w, "%s %s cancelled\n", colorDim.Sprint("-"), t.ID)
	}
	for _, t := range r.Unfinished {
		fmt.Fprintf(w, "%s %s %s\n", colorDim.Sprint("○"), t.ID, t.Status)
	}

	if p.Err != nil {
		fmt.Fprintf(w, "\n%s %v\n", colorFail.Sprint("Error:"), p.Err)
	}
}

func printStatus(w io.Writer, c *color.Color, symbol, message string) {
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func resultPreview(result any) string {
	if result == nil {
		return ""
	}
	s := strings.TrimSpace(fmt.Sprint(result))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if runes := []rune(s); len(runes) > maxResultPreview {
		s = string(runes[:maxResultPreview]) + "..."
	}
	return s
}
