// Package progress renders scan progress for the command line.
package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	bubbles "github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"

	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/scanning"
)

const (
	defaultBarWidth = 40
	defaultLogStep  = 10
)

// New picks a reporter for out: a progress bar on a terminal, periodic log
// lines otherwise, and nothing at all when disabled is set.
func New(out *os.File, disabled bool, logger *logging.Logger) scanning.Reporter {
	switch {
	case disabled:
		return Discard{}
	case isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()):
		return NewBar(out, defaultBarWidth)
	default:
		return NewLog(logger, defaultLogStep)
	}
}

// Discard ignores every report.
type Discard struct{}

// Report does nothing.
func (Discard) Report(float64) {}

// Bar redraws a single-line progress bar.
type Bar struct {
	mu       sync.Mutex
	out      io.Writer
	model    bubbles.Model
	finished bool
}

// NewBar creates a bar of the given width writing to out.
func NewBar(out io.Writer, width int) *Bar {
	return &Bar{
		out:   out,
		model: bubbles.New(bubbles.WithDefaultGradient(), bubbles.WithWidth(width)),
	}
}

// Report redraws the bar. The line is terminated once progress reaches 1.
func (b *Bar) Report(p float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return
	}
	fmt.Fprintf(b.out, "\r%s", b.model.ViewAs(p))
	if p >= 1 {
		fmt.Fprintln(b.out)
		b.finished = true
	}
}

// Log writes a log line each time progress crosses another step percent.
type Log struct {
	mu     sync.Mutex
	logger *logging.Logger
	step   int
	next   int
}

// NewLog creates a reporter logging every step percent. A nil logger uses
// the default logger.
func NewLog(logger *logging.Logger, step int) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	if step < 1 || step > 100 {
		step = defaultLogStep
	}
	return &Log{logger: logger.WithComponent("progress"), step: step}
}

// Report logs when p reaches the next step.
func (l *Log) Report(p float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pct := int(math.Floor(p * 100))
	if pct < l.next || l.next > 100 {
		return
	}
	l.logger.Info("scan progress", "percent", pct)
	l.next = (pct/l.step + 1) * l.step
}
