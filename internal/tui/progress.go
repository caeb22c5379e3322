package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// progressPrinter renders installation progress, as a bar on a terminal and
// as "[NN%] message" lines elsewhere.
type progressPrinter struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *progressPrinter) update(progress float64, message string) {
	pct := int(progress * 100)
	if p.bar == nil {
		fmt.Fprintf(p.out, "[%d%%] %s\n", pct, message)
		return
	}
	p.bar.Describe(message)
	_ = p.bar.Set(pct)
}

func (p *progressPrinter) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(p.out)
	}
}
