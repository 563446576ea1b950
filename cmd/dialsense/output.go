package dialsense

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// startSpinner animates msg on terminals and prints it once elsewhere. The
// returned func stops the animation.
func startSpinner(w io.Writer, msg string) func() {
	if !isTerminal(w) {
		fmt.Fprintln(w, msg)
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

func printConfidenceBar(w io.Writer, confidence int, label string) {
	const barWidth = 24
	filled := confidence * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	var barColor *color.Color
	switch {
	case confidence >= 80:
		barColor = color.New(color.FgGreen)
	case confidence >= 50:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgRed)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "Confidence: %3d%% ", confidence)
	_, _ = barColor.Fprint(w, bar)
	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(w, " (%s)\n", label)
}

func percent(v float64) int {
	return int(v*100 + 0.5)
}

func resultColor(c amd.Classification) *color.Color {
	switch c {
	case amd.Human:
		return color.New(color.FgGreen, color.Bold)
	case amd.Machine:
		return color.New(color.FgMagenta, color.Bold)
	default:
		return color.New(color.FgYellow, color.Bold)
	}
}

func printReport(w io.Writer, r *amd.Report) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	_, _ = bold.Fprint(w, "CONSENSUS ")
	_, _ = resultColor(r.Majority).Fprintln(w, strings.ToUpper(string(r.Majority)))
	_, _ = dim.Fprintf(w, "%d strategies | mean confidence %d%% | mean latency %.0fms\n",
		r.TotalStrategies, percent(r.MeanConfidence), r.MeanLatencyMS)
	fmt.Fprintln(w)

	_, _ = bold.Fprintln(w, "STRATEGIES")
	for _, b := range r.Breakdown {
		fmt.Fprintf(w, "  %-26s ", b.Strategy)
		_, _ = resultColor(b.Result).Fprintf(w, "%-9s ", b.Result)
		printConfidenceBar(w, percent(b.Confidence), fmt.Sprintf("%dms", b.LatencyMS))
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "RECOMMENDATIONS")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "- %s\n", rec)
		}
	}
}

func printCall(w io.Writer, c *call.Call) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	_, _ = bold.Fprintf(w, "CALL %s\n", c.ID)
	fmt.Fprintf(w, "  Number:   %s\n", c.TargetNumber)
	fmt.Fprintf(w, "  Strategy: %s\n", c.Strategy)
	fmt.Fprintf(w, "  Status:   %s\n", c.Status)
	if c.Result == nil {
		_, _ = dim.Fprintln(w, "  No detection result")
		return
	}
	fmt.Fprint(w, "  Result:   ")
	_, _ = resultColor(*c.Result).Fprintln(w, strings.ToUpper(string(*c.Result)))
	if c.Confidence != nil {
		fmt.Fprint(w, "  ")
		printConfidenceBar(w, percent(*c.Confidence), c.ResultLabel())
	}
	if c.DurationSeconds > 0 {
		fmt.Fprintf(w, "  Duration: %ds\n", c.DurationSeconds)
	}
}
