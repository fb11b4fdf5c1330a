// Package progress reports progress of long CLI operations such as warming
// the rules cache.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives progress updates for a fixed number of steps.
type Reporter interface {
	Start(total int, task string)
	Step(label string, err error)
	Finish()
}

// NewReporter returns a LineReporter on CI and a BarReporter otherwise.
func NewReporter(w io.Writer) Reporter {
	if w == nil {
		w = os.Stderr
	}
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return &LineReporter{w: w}
	}
	return &BarReporter{w: w}
}

// BarReporter draws a progress bar.
type BarReporter struct {
	w      io.Writer
	bar    *progressbar.ProgressBar
	failed int
}

func (r *BarReporter) Start(total int, task string) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetDescription(task),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *BarReporter) Step(label string, err error) {
	if err != nil {
		r.failed++
	}
	if r.bar != nil {
		r.bar.Describe(label)
		_ = r.bar.Add(1)
	}
}

func (r *BarReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
	if r.failed > 0 {
		fmt.Fprintf(r.w, "%d step(s) failed\n", r.failed)
	}
}

// LineReporter prints one line per step, suitable for CI logs.
type LineReporter struct {
	w       io.Writer
	total   int
	current int
	task    string
}

// NewLineReporter returns a LineReporter writing to w.
func NewLineReporter(w io.Writer) *LineReporter { return &LineReporter{w: w} }

func (r *LineReporter) Start(total int, task string) {
	r.total = total
	r.current = 0
	r.task = task
	fmt.Fprintf(r.w, "%s: %d step(s)\n", task, total)
}

func (r *LineReporter) Step(label string, err error) {
	r.current++
	if err != nil {
		fmt.Fprintf(r.w, "[%d/%d] %s: %v\n", r.current, r.total, label, err)
		return
	}
	fmt.Fprintf(r.w, "[%d/%d] %s\n", r.current, r.total, label)
}

func (r *LineReporter) Finish() {
	fmt.Fprintf(r.w, "%s complete\n", r.task)
}
