// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each update of the progress bar and should return a name and the current value.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the terminal supports its symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// MaxUpdateFrequency is the minimum time between redraws of the statistics table.
var MaxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// CallProgress displays a progress bar and a table with running statistics while an
// executable is called repeatedly.
//
// Step must be called from a single goroutine; drawing happens asynchronously so that
// fast calls are not slowed down by the terminal.
type CallProgress struct {
	numCalls  int
	numDone   int
	durations []time.Duration
	start     time.Time

	out        io.Writer
	bar        *progressbar.ProgressBar
	termenv    *termenv.Output
	statsStyle lipgloss.Style
	statsTable *lgtable.Table

	isFirstOutput    bool
	updates          chan callUpdate
	asyncUpdatesDone sync.WaitGroup
	extraMetricFns   []ExtraMetricFn
}

type callUpdate struct {
	amount  int
	numDone int
	last    time.Duration
	median  time.Duration
	elapsed time.Duration
}

// NewCallProgress creates a progress bar on the standard output for numCalls calls.
// Call CallProgress.Done when finished.
func NewCallProgress(numCalls int, extraMetrics ...ExtraMetricFn) *CallProgress {
	return newCallProgress(os.Stdout, numCalls, extraMetrics...)
}

func newCallProgress(out io.Writer, numCalls int, extraMetrics ...ExtraMetricFn) *CallProgress {
	p := &CallProgress{
		numCalls:       numCalls,
		start:          time.Now(),
		out:            out,
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(out),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		updates:        make(chan callUpdate, 100), // Large buffer so calls are not blocked.
		extraMetricFns: extraMetrics,
	}
	p.bar = progressbar.NewOptions(numCalls,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("calls"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	p.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	p.asyncUpdatesDone.Add(1)
	go p.drawLoop()
	return p
}

// Step records one finished call that took elapsed time.
func (p *CallProgress) Step(elapsed time.Duration) {
	p.numDone++
	p.durations = append(p.durations, elapsed)
	p.updates <- callUpdate{
		amount:  1,
		numDone: p.numDone,
		last:    elapsed,
		median:  MedianDuration(p.durations),
		elapsed: time.Since(p.start),
	}
}

// Durations returns the durations recorded so far.
func (p *CallProgress) Durations() []time.Duration {
	return p.durations
}

// Done waits for the pending updates to be drawn. The CallProgress can't be used afterward.
func (p *CallProgress) Done() {
	close(p.updates)
	p.asyncUpdatesDone.Wait()
	p.termenv.ShowCursor()
	_, _ = fmt.Fprintln(p.out)
}

func (p *CallProgress) drawLoop() {
	defer p.asyncUpdatesDone.Done()
	for update := range p.updates {
		// Exhaust the updates in the buffer.
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		p.statsTable.Data(lgtable.NewStringData())
		p.statsTable.Row("Calls", fmt.Sprintf("%s of %s", humanizeInt(update.numDone), humanizeInt(p.numCalls)))
		p.statsTable.Row("Last call", FormatDuration(update.last))
		p.statsTable.Row("Median call", FormatDuration(update.median))
		p.statsTable.Row("Elapsed", FormatDuration(update.elapsed))
		for _, extraMetric := range p.extraMetricFns {
			name, value := extraMetric()
			p.statsTable.Row(name, value)
		}

		// Move the cursor back over the previous table, so it is overwritten.
		p.termenv.HideCursor()
		if !p.isFirstOutput {
			numLinesToBackup := 4 + 2 + 2 + len(p.extraMetricFns)
			p.termenv.CursorPrevLine(numLinesToBackup)
		}
		p.isFirstOutput = false

		_, _ = fmt.Fprintln(p.out, p.statsStyle.Render(p.statsTable.String()))
		_ = p.bar.Add(amount)
		_, _ = fmt.Fprintln(p.out)
		p.termenv.ShowCursor()
		time.Sleep(MaxUpdateFrequency)
	}
}
