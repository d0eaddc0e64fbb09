// Package report renders the editorial follow-up queue for people: a plain
// text table for the terminal, Markdown for chat and tickets, and an HTML
// page for the browser.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/followup/internal/followup"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	md   = goldmark.New(goldmark.WithExtensions(extension.Table))
	page = template.Must(template.ParseFS(templateFS, "templates/queue.html"))
)

// Queue is a rendered-ready follow-up queue of one region.
type Queue struct {
	Region      string
	GeneratedAt time.Time
	Entries     []followup.QueueEntry
}

// Text writes the queue as an aligned table.
func Text(w io.Writer, q Queue) error {
	if len(q.Entries) == 0 {
		_, err := fmt.Fprintf(w, "No follow-ups needed for %s.\n", q.Region)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPRIORITY\tTHREAD\tIDLE\tSUGGESTION")
	for i, e := range q.Entries {
		fmt.Fprintf(tw, "%d\t%.1f\t%s\t%s\t%s\n", i+1, e.Priority, e.ThreadTitle, idle(e.DaysSinceUpdate), suggestion(e))
	}
	return tw.Flush()
}

// Markdown renders the queue as a Markdown document.
func Markdown(q Queue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Follow-up queue: %s\n\n", q.Region)
	fmt.Fprintf(&b, "_Generated %s_\n\n", q.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	if len(q.Entries) == 0 {
		b.WriteString("No follow-ups needed.\n")
		return b.String()
	}

	b.WriteString("| # | Priority | Thread | Idle | Suggestion |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for i, e := range q.Entries {
		fmt.Fprintf(&b, "| %d | %.1f | %s | %s | %s |\n",
			i+1, e.Priority, cell(e.ThreadTitle), idle(e.DaysSinceUpdate), cell(suggestion(e)))
	}

	var notes []string
	for _, e := range q.Entries {
		if e.Suggestion != nil && e.Suggestion.Rationale != "" {
			notes = append(notes, fmt.Sprintf("- **%s**: %s", e.Suggestion.Headline, e.Suggestion.Rationale))
		}
	}
	if len(notes) > 0 {
		b.WriteString("\n## Why\n\n")
		b.WriteString(strings.Join(notes, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// HTML writes the queue as a standalone HTML page.
func HTML(w io.Writer, q Queue) error {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(q)), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	return page.Execute(w, map[string]any{
		"Region": q.Region,
		"Body":   template.HTML(body.String()), //nolint: gosec
	})
}

func suggestion(e followup.QueueEntry) string {
	if e.Suggestion == nil {
		return "-"
	}
	s := e.Suggestion.Headline
	if e.Suggestion.Angle != "" {
		s = fmt.Sprintf("[%s] %s", e.Suggestion.Angle, s)
	}
	return s
}

func idle(days float64) string {
	switch {
	case days < 1:
		return fmt.Sprintf("%.0fh", days*24)
	default:
		return fmt.Sprintf("%.0fd", days)
	}
}

// cell escapes text for a Markdown table cell.
func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
