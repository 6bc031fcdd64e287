// Package report formats sweep results into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/imstor/imstor/bench"
)

// Generate writes a markdown comparison for the given sweeps: one
// table per sweep size, backends as rows, with a write-speedup column
// relative to the fastest backend at that size.
func Generate(w io.Writer, results []bench.SweepResult) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")

	for _, size := range collectSizes(results) {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "### %d records\n", size)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Backend | Write | Read | Footprint | Write Speedup |")
		fmt.Fprintln(w, "|---------|-------|------|-----------|---------------|")

		fastest := findFastestWrite(results, size)

		for _, result := range results {
			trial, ok := findTrial(result, size)
			if !ok {
				continue
			}

			speedup := 1.0
			if fastest > 0 && trial.Write.Elapsed > 0 {
				speedup = float64(trial.Write.Elapsed) / float64(fastest)
			}

			fmt.Fprintf(w, "| %s | %s | %s | %s | %.2fx |\n",
				result.Backend,
				formatMeasurement(trial.Write),
				formatMeasurement(trial.Read),
				formatBytes(trial.Write.FootprintBytes),
				speedup,
			)
		}
	}

	return nil
}

// GenerateJSON writes sweeps as indented JSON to w.
func GenerateJSON(w io.Writer, results []bench.SweepResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

// collectSizes returns the ascending union of trial sizes across all
// sweeps.
func collectSizes(results []bench.SweepResult) []int {
	seen := make(map[int]bool)

	var sizes []int
	for _, result := range results {
		for _, trial := range result.Trials {
			if !seen[trial.Size] {
				seen[trial.Size] = true
				sizes = append(sizes, trial.Size)
			}
		}
	}

	sort.Ints(sizes)

	return sizes
}

func findTrial(result bench.SweepResult, size int) (bench.Trial, bool) {
	for _, trial := range result.Trials {
		if trial.Size == size {
			return trial, true
		}
	}

	return bench.Trial{}, false
}

func findFastestWrite(results []bench.SweepResult, size int) time.Duration {
	var fastest time.Duration

	for _, result := range results {
		trial, ok := findTrial(result, size)
		if !ok || trial.Write.Elapsed <= 0 {
			continue
		}
		if fastest == 0 || trial.Write.Elapsed < fastest {
			fastest = trial.Write.Elapsed
		}
	}

	return fastest
}

func formatMeasurement(m bench.Measurement) string {
	if m.ElapsedStdDev > 0 {
		return fmt.Sprintf(
			"%s ± %s",
			formatDuration(m.Elapsed), formatDuration(m.ElapsedStdDev),
		)
	}

	return formatDuration(m.Elapsed)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
