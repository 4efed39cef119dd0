package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

const reportWrap = 100

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderMarkdown styles md for a terminal, or writes it unchanged when plain or piped.
func renderMarkdown(w io.Writer, md string, plain bool) error {
	if plain || !isTerminal(w) {
		_, err := io.WriteString(w, md)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(reportWrap),
	)
	if err != nil {
		_, err = io.WriteString(w, md)
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		_, err = io.WriteString(w, md)
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

var (
	badgeBase    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	badgeSuccess = badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42"))
	badgeReview  = badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214"))
	badgeFailed  = badgeBase.Foreground(lipgloss.Color("15")).Background(lipgloss.Color("196"))
)

// statusBadge renders a final status, coloured only when color is set.
func statusBadge(status ticket.FinalStatus, color bool) string {
	label := strings.ToUpper(string(status))
	if !color {
		return "[" + label + "]"
	}
	switch status {
	case ticket.FinalSuccess:
		return badgeSuccess.Render(label)
	case ticket.FinalStoppedForReview:
		return badgeReview.Render(label)
	default:
		return badgeFailed.Render(label)
	}
}
