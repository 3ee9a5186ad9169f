package main

import (
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/replay-tools/rdt/internal/debugtest"
	"github.com/schollz/progressbar/v3"
)

// stageProgress renders debug-test stages as a progress bar.
type stageProgress struct {
	bar      *progressbar.ProgressBar
	target   string
	finished bool
}

func newStageProgress(out io.Writer, target string) *stageProgress {
	p := &stageProgress{target: target}
	p.bar = progressbar.NewOptions(len(debugtest.Stages),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(p.describe(debugtest.Stages[0])),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return p
}

// StageStarted implements debugtest.StageObserver.
func (p *stageProgress) StageStarted(stage debugtest.Stage) {
	if p == nil || p.finished {
		return
	}
	p.bar.Describe(p.describe(stage))
	for i, candidate := range debugtest.Stages {
		if candidate == stage {
			_ = p.bar.Set(i)
			return
		}
	}
}

// Finish clears the bar so the final status line stands alone. Later calls
// are no-ops.
func (p *stageProgress) Finish() {
	if p == nil || p.finished {
		return
	}
	p.finished = true
	_ = p.bar.Finish()
}

// progressNotifier clears the progress bar before a message is written to
// the stream the bar renders on.
type progressNotifier struct {
	progress interface{ Finish() }
	next     debugtest.Notifier
}

func (n progressNotifier) ShowErrorMessage(text string) {
	n.progress.Finish()
	n.next.ShowErrorMessage(text)
}

func notifierWithProgress(next debugtest.Notifier, progress debugtest.StageObserver) debugtest.Notifier {
	finisher, ok := progress.(interface{ Finish() })
	if !ok {
		return next
	}
	return progressNotifier{progress: finisher, next: next}
}

func (p *stageProgress) describe(stage debugtest.Stage) string {
	return color.CyanString("Debugging %s: ", p.target) + strings.ReplaceAll(string(stage), "_", " ")
}

// isTerminal reports whether out is an interactive terminal.
func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
