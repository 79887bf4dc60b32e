package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/japaniel/lexicon/pkg/cleanup"
	"github.com/japaniel/lexicon/pkg/db"
)

// printer renders command output. Styles are bound to the output writer so
// colors are dropped when it is not a terminal.
type printer struct {
	out io.Writer

	heading  lipgloss.Style
	label    lipgloss.Style
	muted    lipgloss.Style
	proposed lipgloss.Style
	failed   lipgloss.Style
	block    lipgloss.Style
}

func newPrinter(out io.Writer) *printer {
	r := lipgloss.NewRenderer(out)
	return &printer{
		out:      out,
		heading:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		label:    r.NewStyle().Bold(true),
		muted:    r.NewStyle().Foreground(lipgloss.Color("#888888")),
		proposed: r.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
		failed:   r.NewStyle().Foreground(lipgloss.Color("#F44336")),
		block:    r.NewStyle().PaddingLeft(2),
	}
}

func (p *printer) report(r *cleanup.Report) {
	fmt.Fprintln(p.out, p.heading.Render("Cleanup pass"))
	fmt.Fprintf(p.out, "  selected %d, %s, %s, skipped %d in %s\n",
		r.Selected,
		p.proposed.Render(fmt.Sprintf("proposed %d", r.Proposed)),
		p.failed.Render(fmt.Sprintf("failed %d", r.Failed)),
		r.Skipped,
		r.Duration.Round(time.Millisecond))

	ids := make([]int64, 0, len(r.Failures))
	for id := range r.Failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(p.out, "  %s record %d: %v\n", p.failed.Render("✗"), id, r.Failures[id])
	}
}

func (p *printer) pending(list []db.PendingProposal) {
	if len(list) == 0 {
		fmt.Fprintln(p.out, p.muted.Render("No pending proposals."))
		return
	}
	for i, pp := range list {
		if i > 0 {
			fmt.Fprintln(p.out)
		}
		fmt.Fprintf(p.out, "%s %s\n", p.heading.Render("Proposal"), pp.ID)
		fmt.Fprintln(p.out, p.muted.Render(fmt.Sprintf("record %d · model %s · generated %s",
			pp.RecordID, pp.Model, pp.GeneratedAt.Local().Format("2006-01-02 15:04"))))

		if pp.ProposedTitle != "" && pp.ProposedTitle != pp.Record.Title {
			fmt.Fprintf(p.out, "%s %q -> %q\n", p.label.Render("Title:"), pp.Record.Title, pp.ProposedTitle)
		} else {
			fmt.Fprintf(p.out, "%s %q\n", p.label.Render("Title:"), pp.Record.Title)
		}
		if pp.ProposedBody == pp.Record.Body {
			fmt.Fprintln(p.out, p.muted.Render("Body unchanged."))
			continue
		}
		fmt.Fprintln(p.out, p.label.Render("Current:"))
		fmt.Fprintln(p.out, p.block.Render(strings.TrimRight(pp.Record.Body, "\n")))
		fmt.Fprintln(p.out, p.label.Render("Proposed:"))
		fmt.Fprintln(p.out, p.block.Render(p.proposed.Render(strings.TrimRight(pp.ProposedBody, "\n"))))
	}
}
