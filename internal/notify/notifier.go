// Package notify is the user-facing error surface of the CLI.
package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

var (
	errorColor = lipgloss.CompleteColor{TrueColor: "#FF5F5F", ANSI256: "203", ANSI: "9"}
	bodyColor  = lipgloss.CompleteColor{TrueColor: "#FFD7AF", ANSI256: "223", ANSI: "11"}
)

// Notifier prints error messages for the user and mirrors them to the log.
type Notifier struct {
	mu     sync.Mutex
	out    io.Writer
	label  lipgloss.Style
	body   lipgloss.Style
	logger *log.Logger
}

// New builds a notifier writing to out (stderr when nil). Colors follow the
// terminal profile of out and are disabled by NO_COLOR.
func New(out io.Writer, logger *log.Logger) *Notifier {
	if out == nil {
		out = os.Stderr
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	renderer := lipgloss.NewRenderer(out)
	if termenv.EnvNoColor() {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return newWithRenderer(out, renderer, logger)
}

func newWithRenderer(out io.Writer, renderer *lipgloss.Renderer, logger *log.Logger) *Notifier {
	return &Notifier{
		out:    out,
		label:  renderer.NewStyle().Bold(true).Foreground(errorColor),
		body:   renderer.NewStyle().Foreground(bodyColor),
		logger: logger,
	}
}

// ShowErrorMessage displays text as an error. Blank text is ignored.
func (n *Notifier) ShowErrorMessage(text string) {
	if n == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.logger.With("message", text).Warn("user notified")
	if _, err := fmt.Fprintf(n.out, "%s %s\n", n.label.Render("error:"), n.body.Render(text)); err != nil {
		n.logger.With("error", err.Error()).Error("write notification failed")
	}
}
