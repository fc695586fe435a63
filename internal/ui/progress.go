package ui

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar reports how many allocations a usage sync has visited
type ProgressBar struct {
	bar     *progressbar.ProgressBar
	total   int64
	current int64
}

// NewProgressBar creates a progress bar on stderr
func NewProgressBar(total int64, description string) *ProgressBar {
	return NewProgressBarWithWriter(total, description, os.Stderr)
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific writer
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("allocations"),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)

	return &ProgressBar{bar: bar, total: total}
}

// Add increments the progress bar by the given amount
func (p *ProgressBar) Add(amount int64) error {
	p.current += amount
	return p.bar.Add64(amount)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	if p.total == 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}
