// Package tui renders CLI output: styled reports and progress bars.
package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/bxes/pkg/codec"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

func row(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-12s", label+":")), titleStyle.Render(value))
}

// PrintStats prints the section breakdown of an encoded log.
func PrintStats(w io.Writer, path string, s *codec.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", accentStyle.Render("▸ BXES"), codeStyle.Render(path))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	row(w, "Layout", s.Layout)
	row(w, "Version", fmt.Sprintf("%d", s.Version))
	row(w, "Variants", FormatNumber(int64(s.Variants)))
	row(w, "Traces", FormatNumber(int64(s.Traces)))
	row(w, "Events", FormatNumber(int64(s.Events)))
	row(w, "Values", FormatNumber(int64(s.Values)))
	row(w, "Pairs", FormatNumber(int64(s.Pairs)))
	row(w, "Descriptors", fmt.Sprintf("%d", s.ValueAttributes))
	row(w, "Size", FormatBytes(s.FileBytes))

	if len(s.Sections) > 0 {
		fmt.Fprintln(w, mutedStyle.Render(rule))
		payload := s.Payload()
		for _, sec := range s.Sections {
			share := 0.0
			if payload > 0 {
				share = float64(sec.Bytes) / float64(payload) * 100
			}
			fmt.Fprintf(w, "  %s %s %s\n",
				mutedStyle.Render(fmt.Sprintf("%-22s", sec.Name)),
				titleStyle.Render(fmt.Sprintf("%10s", FormatBytes(sec.Bytes))),
				mutedStyle.Render(fmt.Sprintf("%5.1f%%", share)))
		}
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w)
}

// Report summarizes one completed operation.
type Report struct {
	Operation  string
	Variants   int
	Events     int64
	Traces     uint64
	InputSize  int64
	OutputSize int64
	Duration   time.Duration
}

// PrintReport prints results after an operation.
func PrintReport(w io.Writer, r *Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ "+r.Operation+" COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Events:"),
		titleStyle.Render(FormatNumber(r.Events)),
		mutedStyle.Render(fmt.Sprintf("(%d variants, %s traces)", r.Variants, FormatNumber(int64(r.Traces)))))

	if r.InputSize > 0 && r.OutputSize > 0 {
		ratio := float64(r.InputSize) / float64(r.OutputSize)
		fmt.Fprintf(w, "  %s %s → %s %s\n",
			mutedStyle.Render("Size:"),
			FormatBytes(r.InputSize),
			FormatBytes(r.OutputSize),
			successStyle.Render(fmt.Sprintf("(%.1fx)", ratio)))
	}

	if r.Duration > 0 {
		throughput := float64(r.Events) / r.Duration.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(FormatDuration(r.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s events/sec)", FormatNumber(int64(throughput)))))
	}
	fmt.Fprintln(w)
}

// PrintFailure prints a failed item.
func PrintFailure(w io.Writer, item string, err error) {
	fmt.Fprintf(w, "  %s %s %s\n", accentStyle.Render("✗"), titleStyle.Render(item), mutedStyle.Render(err.Error()))
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// FormatNumber abbreviates large counts.
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar writing to w.
func ShowProgress(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
