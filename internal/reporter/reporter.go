// Package reporter writes timestamped plain-text reports of processing runs
// so the outcome of unattended poll and watch modes can be audited later.
package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"playdeck/internal/processor"
)

// Report captures one processing pass.
type Report struct {
	Timestamp      time.Time
	SourceDir      string
	DestinationDir string
	DryRun         bool
	Stats          *processor.Stats
}

// Generate writes the report into reportDir and returns the file path.
func Generate(reportDir string, report Report) (string, error) {
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(reportDir, timestamp+".txt")

	content := buildReportContent(report)
	if err := os.WriteFile(filename, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return filename, nil
}

func buildReportContent(report Report) string {
	var sb strings.Builder
	rule := strings.Repeat("=", 80) + "\n"
	stats := report.Stats

	mode := "live"
	if report.DryRun {
		mode = "dry-run"
	}

	sb.WriteString("PLAYDECK RUN REPORT\n")
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Generated: %s\n", report.Timestamp.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Source: %s\n", report.SourceDir))
	sb.WriteString(fmt.Sprintf("Destination: %s\n", report.DestinationDir))
	sb.WriteString(fmt.Sprintf("Mode: %s\n", mode))
	sb.WriteString("\n")

	sb.WriteString("SUMMARY\n")
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Files processed: %d\n", stats.Processed))
	sb.WriteString(fmt.Sprintf("Files skipped: %d\n", stats.Skipped))
	sb.WriteString(fmt.Sprintf("Files ignored: %d\n", stats.Ignored))
	sb.WriteString(fmt.Sprintf("Samples suppressed: %d\n", stats.SuppressedSamples))
	sb.WriteString(fmt.Sprintf("Warnings: %d\n", len(stats.Warnings)))
	sb.WriteString(fmt.Sprintf("Errors: %d\n", len(stats.Errors)))
	sb.WriteString("\n")

	writeSection(&sb, rule, "ERRORS", stats.Errors)
	writeSection(&sb, rule, "WARNINGS", stats.Warnings)
	writeSection(&sb, rule, "SKIPPED (DETAILED)", stats.SkippedDetails)
	writeSection(&sb, rule, "IGNORED (DETAILED)", stats.IgnoredDetails)

	return sb.String()
}

func writeSection(sb *strings.Builder, rule, title string, entries []string) {
	if len(entries) == 0 {
		return
	}
	sb.WriteString(title + "\n")
	sb.WriteString(rule)
	for i, entry := range entries {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, entry))
	}
	sb.WriteString("\n")
}
