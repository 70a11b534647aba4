// Package console renders ask results in a terminal.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

const maxLineLength = 100

// Styles
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	urlStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Printer writes pipeline events to a terminal. It implements
// pipeline.EventEmitter for streaming and PrintResult for whole answers.
type Printer struct {
	w     io.Writer
	width int

	section sections.Section
	inPart  bool
}

// NewPrinter creates a printer that wraps text at width columns; zero
// selects the default width.
func NewPrinter(w io.Writer, width int) *Printer {
	if width <= 0 || width > maxLineLength {
		width = maxLineLength
	}
	return &Printer{w: w, width: width}
}

func (p *Printer) header(title string) {
	if p.inPart {
		fmt.Fprint(p.w, "\n")
	}
	fmt.Fprintf(p.w, "\n%s\n", headerStyle.Render(title))
	p.inPart = false
}

func (p *Printer) printResults(results []search.Result) {
	p.header(fmt.Sprintf("Sources (%d)", len(results)))
	for i, r := range results {
		fmt.Fprintf(p.w, "%d. %s\n   %s\n", i+1, sourceStyle.Render(r.Title), urlStyle.Render(r.URL))
	}
}

// EmitSearchResults lists the sources
func (p *Printer) EmitSearchResults(results []search.Result) error {
	p.printResults(results)
	return nil
}

// EmitSection prints a heading when a new part starts
func (p *Printer) EmitSection(section sections.Section) error {
	p.section = section
	switch section {
	case sections.SectionReasoning:
		p.header("Reasoning")
	case sections.SectionAnswer:
		p.header("Answer")
	}
	return nil
}

// EmitDelta prints the newly classified text of each part
func (p *Printer) EmitDelta(delta pipeline.Delta) error {
	if delta.Snapshot != nil {
		p.header("Answer restructured")
		p.printSplit(*delta.Snapshot)
		return nil
	}
	if delta.Reasoning != "" {
		fmt.Fprint(p.w, reasoningStyle.Render(delta.Reasoning))
		p.inPart = true
	}
	if delta.Answer != "" {
		if p.section == sections.SectionNone && !p.inPart {
			p.header("Answer")
		}
		fmt.Fprint(p.w, answerStyle.Render(delta.Answer))
		p.inPart = true
	}
	return nil
}

// EmitAnswer ends the streamed output
func (p *Printer) EmitAnswer(result *pipeline.ResponderResultData) error {
	if p.inPart {
		fmt.Fprint(p.w, "\n")
		p.inPart = false
	}
	if result != nil && result.Model != "" {
		fmt.Fprintf(p.w, "\n%s\n", urlStyle.Render(fmt.Sprintf("%s / %s", result.Provider, result.Model)))
	}
	return nil
}

// EmitError prints the error
func (p *Printer) EmitError(err error) error {
	fmt.Fprintf(p.w, "\n%s\n", errorStyle.Render("Error: "+err.Error()))
	return nil
}

func (p *Printer) EmitDone() error { return nil }

func (p *Printer) printSplit(split sections.SplitResult) {
	if split.Reasoning != "" {
		fmt.Fprintln(p.w, reasoningStyle.Render(p.wrap(split.Reasoning)))
	}
	if split.FinalAnswer != "" {
		if split.Reasoning != "" {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintln(p.w, answerStyle.Render(p.wrap(split.FinalAnswer)))
	}
}

// PrintResult renders a completed answer with its sources
func (p *Printer) PrintResult(results []search.Result, result *pipeline.ResponderResultData) {
	p.printResults(results)
	if result == nil {
		return
	}
	if result.Split.Reasoning != "" {
		p.header("Reasoning")
		fmt.Fprintln(p.w, reasoningStyle.Render(p.wrap(result.Split.Reasoning)))
	}
	p.header("Answer")
	fmt.Fprintln(p.w, answerStyle.Render(p.wrap(result.Split.FinalAnswer)))
	if result.Model != "" {
		fmt.Fprintf(p.w, "\n%s\n", urlStyle.Render(fmt.Sprintf("%s / %s", result.Provider, result.Model)))
	}
}

func (p *Printer) wrap(s string) string {
	return wordwrap.String(strings.TrimSpace(s), p.width)
}

var _ pipeline.EventEmitter = (*Printer)(nil)
