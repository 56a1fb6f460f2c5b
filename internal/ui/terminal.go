package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")).Bold(true)
	styleAlert   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true)
	styleHeader  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")).Bold(true)
	styleTimer   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ABB2BF"))
	styleExpiry  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true)
)

// Terminal renders the game as styled lines on a terminal. Confirmations
// pull one line at a time from readLine; the caller owns the input stream,
// so a prompt and a surrounding command loop never buffer past each other.
type Terminal struct {
	out      io.Writer
	readLine func() (string, error)
}

func NewTerminal(out io.Writer, readLine func() (string, error)) *Terminal {
	return &Terminal{out: out, readLine: readLine}
}

func (t *Terminal) Notify(msg string, level Level) {
	style := styleInfo
	switch level {
	case LevelSuccess:
		style = styleSuccess
	case LevelWarning:
		style = styleWarning
	}
	fmt.Fprintln(t.out, style.Render("• "+msg))
}

func (t *Terminal) Alert(msg string) {
	fmt.Fprintln(t.out, styleAlert.Render("!! "+msg))
}

func (t *Terminal) Confirm(prompt string) bool {
	fmt.Fprintf(t.out, "%s [y/N] ", prompt)
	line, err := t.readLine()
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (t *Terminal) SetHeader(team string, round, page int) {
	fmt.Fprintln(t.out, styleHeader.Render(fmt.Sprintf("%s — round %d, page %d", team, round, page)))
}

func (t *Terminal) SetScore(score int) {
	fmt.Fprintln(t.out, styleInfo.Render(fmt.Sprintf("score: %d", score)))
}

func (t *Terminal) SetBugCount(fixed, total int) {
	fmt.Fprintln(t.out, styleInfo.Render(fmt.Sprintf("bugs fixed: %d/%d", fixed, total)))
}

func (t *Terminal) SetTimer(display string, warning bool) {
	style := styleTimer
	if warning {
		style = styleExpiry
	}
	fmt.Fprintln(t.out, style.Render("time left: "+display))
}

func (t *Terminal) EnableComplete() {
	fmt.Fprintln(t.out, styleSuccess.Render("→ page can be completed: run `complete`"))
}

func (t *Terminal) ShowContinue() {
	fmt.Fprintln(t.out, styleSuccess.Render("→ page already completed by your team: run `complete` to continue"))
}
