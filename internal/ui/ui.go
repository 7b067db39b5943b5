package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/helix/internal/tracker"
)

// UI receives human-facing progress events from an improvement cycle.
type UI interface {
	CycleStart(cycleID string, gen int)
	PhaseStart(phase string)
	CycleAborted(reason string)
	GenerationSealed(s tracker.Snapshot)
	CycleDone(gen int, validated bool)
	Info(msg string)
	Error(msg string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) CycleStart(string, int)            {}
func (Nop) PhaseStart(string)                 {}
func (Nop) CycleAborted(string)               {}
func (Nop) GenerationSealed(tracker.Snapshot) {}
func (Nop) CycleDone(int, bool)               {}
func (Nop) Info(string)                       {}
func (Nop) Error(string)                      {}

var _ UI = (*Printer)(nil)

// Printer writes styled progress output, to stderr by default.
type Printer struct {
	w io.Writer

	title  lipgloss.Style
	phase  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	dim    lipgloss.Style
	header lipgloss.Style
}

// New returns a Printer writing to stderr.
func New() *Printer {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter returns a Printer writing to w. Colors are only emitted when
// w is a terminal.
func NewWithWriter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		phase:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		ok:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		warn:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		fail:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		dim:    r.NewStyle().Faint(true),
		header: r.NewStyle().Bold(true),
	}
}

func (p *Printer) CycleStart(cycleID string, gen int) {
	fmt.Fprintf(p.w, "\n%s %s\n",
		p.title.Render(fmt.Sprintf("── evolving from generation %d ──", gen)),
		p.dim.Render(shortID(cycleID)))
}

func (p *Printer) PhaseStart(phase string) {
	fmt.Fprintf(p.w, "%s %s\n", p.phase.Render("▶"), phase)
}

func (p *Printer) CycleAborted(reason string) {
	fmt.Fprintf(p.w, "%s: %s\n", p.warn.Render("⚠ cycle aborted"), reason)
}

func (p *Printer) GenerationSealed(s tracker.Snapshot) {
	fmt.Fprintf(p.w, "%s %s\n", p.ok.Render(fmt.Sprintf("✓ generation %d sealed", s.GenID)),
		p.dim.Render(fmt.Sprintf("(%s, %d metric(s))", s.Status, len(s.Metrics))))
	for _, c := range s.Changelog {
		fmt.Fprintf(p.w, "    • %s\n", c)
	}
}

func (p *Printer) CycleDone(gen int, validated bool) {
	if validated {
		fmt.Fprintf(p.w, "%s generation %d\n", p.ok.Render("✓ validated"), gen)
		return
	}
	fmt.Fprintf(p.w, "%s generation %d %s\n", p.warn.Render("⚠ validation failed"), gen,
		p.dim.Render("(kept; validation is observational)"))
}

func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, p.dim.Render(msg))
}

func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.w, "%s%s\n", p.fail.Render("error: "), msg)
}

// --- Reporting output used by the CLI ---

// History prints one line per sealed generation.
func (p *Printer) History(component string, history []tracker.Snapshot) {
	fmt.Fprintln(p.w, p.header.Render("history: "+component))
	if len(history) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("  (no generations)"))
		return
	}
	for _, s := range history {
		parent := "-"
		if s.ParentGenID != nil {
			parent = fmt.Sprintf("%d", *s.ParentGenID)
		}
		fmt.Fprintf(p.w, "  gen %-4d %-10s parent %-4s metrics %-3d %s\n",
			s.GenID, s.Status, parent, len(s.Metrics), p.dim.Render(s.Timestamp))
		for _, c := range s.Changelog {
			fmt.Fprintf(p.w, "           • %s\n", c)
		}
	}
}

// Trend prints the per-generation values of a metric.
func (p *Printer) Trend(metric string, points []tracker.TrendPoint) {
	fmt.Fprintln(p.w, p.header.Render("trend: "+metric))
	if len(points) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("  (no data)"))
		return
	}
	for _, pt := range points {
		fmt.Fprintf(p.w, "  gen %-4d %v\n", pt.GenID, pt.Value)
	}
}

// Diff prints diff lines, coloring additions and deletions.
func (p *Printer) Diff(lines []string) {
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			fmt.Fprintln(p.w, p.header.Render(l))
		case strings.HasPrefix(l, "@@"):
			fmt.Fprintln(p.w, p.title.Render(l))
		case strings.HasPrefix(l, "+"):
			fmt.Fprintln(p.w, p.ok.Render(l))
		case strings.HasPrefix(l, "-"):
			fmt.Fprintln(p.w, p.fail.Render(l))
		default:
			fmt.Fprintln(p.w, l)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
