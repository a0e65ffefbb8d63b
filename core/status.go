package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ryanuber/columnize"
)

// StatusReport is a snapshot derived purely from the ledgers and issue logs.
// Generating it never mutates anything.
type StatusReport struct {
	ArchivesTotal     int
	ArchivesProcessed int
	ArchivesExtracted int
	MediaProcessed    int

	ExifToolFailures int
	PathTooLong      int
	CorruptArchives  int
}

// BuildStatusReport reads the project's ledgers and issue logs.
func BuildStatusReport(cfg Config) (StatusReport, error) {
	var report StatusReport

	if entries, err := os.ReadDir(cfg.ArchivesDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.ToLower(filepath.Ext(e.Name())) == ".zip" {
				report.ArchivesTotal++
			}
		}
	}

	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		return report, err
	}
	for key := range workLedger.All() {
		if strings.HasPrefix(key, archiveKeyPrefix) {
			report.ArchivesProcessed++
		}
	}

	extractLedger, err := OpenLedger(cfg.ExtractedArchivesLog)
	if err != nil {
		return report, err
	}
	report.ArchivesExtracted = extractLedger.Len()

	fileLedger, err := OpenLedger(cfg.ProcessedFilesLog)
	if err != nil {
		return report, err
	}
	report.MediaProcessed = fileLedger.Len()

	counts := []struct {
		path string
		dest *int
	}{
		{cfg.ExifToolFailuresLog, &report.ExifToolFailures},
		{cfg.PathTooLongLog, &report.PathTooLong},
		{cfg.CorruptArchivesLog, &report.CorruptArchives},
	}
	for _, c := range counts {
		n, err := NewIssueLog(c.path).Count()
		if err != nil {
			return report, err
		}
		*c.dest = n
	}
	return report, nil
}

// Render formats the report for the terminal.
func (r StatusReport) Render(cfg Config) string {
	var b strings.Builder

	rows := []string{
		"Progress|Count",
		fmt.Sprintf("Archives with JSON extracted|%d / %d", r.ArchivesExtracted, r.ArchivesTotal),
		fmt.Sprintf("Archives fully processed|%d / %d", r.ArchivesProcessed, r.ArchivesTotal),
		fmt.Sprintf("Media files committed|%d", r.MediaProcessed),
	}
	b.WriteString(columnize.SimpleFormat(rows))
	b.WriteString("\n\n")

	issues := []string{
		"Issue|Count",
		fmt.Sprintf("ExifTool failures|%d", r.ExifToolFailures),
		fmt.Sprintf("Paths too long|%d", r.PathTooLong),
		fmt.Sprintf("Corrupt archives|%d", r.CorruptArchives),
	}
	b.WriteString(columnize.SimpleFormat(issues))
	b.WriteString("\n\n")

	if r.ExifToolFailures == 0 && r.PathTooLong == 0 && r.CorruptArchives == 0 {
		b.WriteString("No issues found.\n\n")
	}

	locations := []string{
		"Location|Path",
		"Processed files ledger|" + cfg.ProcessedFilesLog,
		"Work items ledger|" + cfg.ProcessedWorkItemsLog,
		"ExifTool failures log|" + cfg.ExifToolFailuresLog,
		"Path-too-long log|" + cfg.PathTooLongLog,
		"Corrupt archives log|" + cfg.CorruptArchivesLog,
		"Review folder|" + cfg.NeedsReviewDir,
	}
	b.WriteString(columnize.SimpleFormat(locations))
	b.WriteString("\n")
	return b.String()
}
