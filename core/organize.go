package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// OutcomeKind classifies what happened to one media file.
type OutcomeKind string

const (
	// OutcomeCommitted means the file landed in the dated library.
	OutcomeCommitted OutcomeKind = "committed"
	// OutcomeCollision means the destination already existed; the file was
	// left alone and marked handled.
	OutcomeCollision OutcomeKind = "collision"
	// OutcomeDivertedUnmatched means no usable timestamp was found anywhere.
	OutcomeDivertedUnmatched OutcomeKind = "diverted-unmatched"
	// OutcomeDivertedPathTooLong means the destination path hit the length
	// limit.
	OutcomeDivertedPathTooLong OutcomeKind = "diverted-path-too-long"
	// OutcomeDryRun means the decision was computed but nothing was touched.
	OutcomeDryRun OutcomeKind = "dry-run"
)

// Outcome reports the terminal state of one media file.
type Outcome struct {
	Kind OutcomeKind
	// Dest is where the file ended up (or would have, for dry runs).
	Dest string
	// Warning is set for non-fatal conditions worth surfacing in the summary.
	Warning bool
}

// Organizer commits resolved media files into the dated library layout,
// applying the collision, path-length, and source-immutability policies.
type Organizer struct {
	logger   hclog.Logger
	cfg      Config
	tool     MetadataTool
	dryRun   bool
	pathLog  *IssueLog
	toolLog  *IssueLog
	fileLog  *Ledger
	validate func(string) (bool, int)
}

// NewOrganizer wires an organizer. fileLedger receives the per-file
// completion entry for every terminal outcome.
func NewOrganizer(logger hclog.Logger, cfg Config, tool MetadataTool, fileLedger *Ledger, dryRun bool) *Organizer {
	o := &Organizer{
		logger:  logger,
		cfg:     cfg,
		tool:    tool,
		dryRun:  dryRun,
		pathLog: NewIssueLog(cfg.PathTooLongLog),
		toolLog: NewIssueLog(cfg.ExifToolFailuresLog),
		fileLog: fileLedger,
	}
	o.validate = func(path string) (bool, int) {
		return len(path) < cfg.MaxPathLength, len(path)
	}
	return o
}

// Commit moves or copies one media file (plus its matched sidecars) to its
// terminal location and records it in the per-file ledger. Every branch is a
// defined outcome; errors are reserved for filesystem failures.
func (o *Organizer) Commit(mediaPath string, resolved ResolvedMetadata, match MatchResult) (Outcome, error) {
	baseName := filepath.Base(mediaPath)

	if !resolved.Resolved() {
		return o.divert(mediaPath, match, o.cfg.OrphanDir, OutcomeDivertedUnmatched)
	}

	year := resolved.Timestamp.UTC().Format("2006")
	month := resolved.Timestamp.UTC().Format("01")
	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	destDir := filepath.Join(o.cfg.LibraryDir, year, month, stem)

	realExt := o.tool.DetectTrueExtension(mediaPath)
	destPath := filepath.Join(destDir, stem+realExt)

	if ok, length := o.validate(destPath); !ok {
		o.logger.Warn("destination path too long, diverting",
			"file", baseName, "length", length, "max", o.cfg.MaxPathLength)
		if !o.dryRun {
			if err := o.pathLog.Record(mediaPath, fmt.Sprintf("%s|%d", destPath, length)); err != nil {
				o.logger.Warn("failed to record path-too-long issue", "error", err)
			}
		}
		return o.divert(mediaPath, match, o.cfg.PathTooLongDir, OutcomeDivertedPathTooLong)
	}

	if o.dryRun {
		o.logger.Info("[dry run] would commit media", "file", baseName, "dest", destPath,
			"timestamp_source", resolved.TimestampSource, "gps_source", resolved.GPSSource)
		return Outcome{Kind: OutcomeDryRun, Dest: destPath}, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return Outcome{}, fmt.Errorf("failed to create %q: %w", destDir, err)
	}

	if _, err := os.Stat(destPath); err == nil {
		// Never overwrite. Sidecars still land so the bundle stays complete,
		// and the file is marked handled for idempotent re-runs.
		o.logger.Warn("destination already exists, skipping media copy", "dest", destPath)
		o.copySidecars(match.All(), destDir)
		if err := o.fileLog.Append(mediaPath); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeCollision, Dest: destPath, Warning: true}, nil
	}

	if err := o.placeFile(mediaPath, destPath); err != nil {
		return Outcome{}, err
	}

	destPath = NormalizeExtension(o.logger, o.tool, destPath)
	o.writeBack(mediaPath, destPath, resolved)
	o.copySidecars(match.All(), destDir)

	if err := o.fileLog.Append(mediaPath); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeCommitted, Dest: destPath}, nil
}

// writeBack stamps sidecar-sourced metadata into the committed file. Writer
// failures are surfaced and logged but never roll back the commit.
func (o *Organizer) writeBack(sourcePath, destPath string, resolved ResolvedMetadata) {
	if resolved.NeedsTimestampWrite() {
		if err := o.tool.WriteTimestamps(destPath, resolved.Timestamp); err != nil {
			o.logger.Warn("failed to write timestamps", "dest", destPath, "error", err)
			if lerr := o.toolLog.Record(sourcePath, fmt.Sprintf("%s: %v", resolved.TimestampSource, err)); lerr != nil {
				o.logger.Warn("failed to record tool failure", "error", lerr)
			}
		} else {
			o.logger.Info("merged timestamps from sidecar", "dest", filepath.Base(destPath),
				"source", resolved.TimestampSource)
		}
	}

	if resolved.NeedsGPSWrite() {
		gps := resolved.GPS
		if err := o.tool.WriteGPS(destPath, gps.Latitude, gps.Longitude, gps.Altitude); err != nil {
			o.logger.Warn("failed to write GPS", "dest", destPath, "error", err)
			if lerr := o.toolLog.Record(sourcePath, fmt.Sprintf("%s: %v", resolved.GPSSource, err)); lerr != nil {
				o.logger.Warn("failed to record tool failure", "error", lerr)
			}
		} else {
			o.logger.Info("added GPS from sidecar", "dest", filepath.Base(destPath),
				"source", resolved.GPSSource)
		}
	}
}

// divert sends a file to a review location together with its sidecars.
func (o *Organizer) divert(mediaPath string, match MatchResult, reviewDir string, kind OutcomeKind) (Outcome, error) {
	dest := filepath.Join(reviewDir, filepath.Base(mediaPath))
	if o.dryRun {
		o.logger.Info("[dry run] would divert media", "file", filepath.Base(mediaPath),
			"dest", dest, "reason", kind)
		return Outcome{Kind: OutcomeDryRun, Dest: dest, Warning: true}, nil
	}

	if err := os.MkdirAll(reviewDir, 0755); err != nil {
		return Outcome{}, fmt.Errorf("failed to create %q: %w", reviewDir, err)
	}
	if _, err := os.Stat(dest); err != nil {
		if err := o.placeFile(mediaPath, dest); err != nil {
			return Outcome{}, err
		}
	}
	o.copySidecars(match.All(), reviewDir)

	if err := o.fileLog.Append(mediaPath); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: kind, Dest: dest, Warning: true}, nil
}

// placeFile moves the file when it lives in the mutable workbench and copies
// it when it lives in the read-only archive store, which is never mutated.
func (o *Organizer) placeFile(src, dest string) error {
	if isUnderDir(src, o.cfg.ArchivesDir) {
		if err := copyFileAtomic(src, dest); err != nil {
			return fmt.Errorf("failed to copy %q: %w", src, err)
		}
		return nil
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Cross-device moves fall back to copy-then-remove.
	if err := copyFileAtomic(src, dest); err != nil {
		return fmt.Errorf("failed to move %q: %w", src, err)
	}
	return os.Remove(src)
}

// copySidecars copies matched sidecar files alongside the media, never
// overwriting.
func (o *Organizer) copySidecars(paths []string, destDir string) {
	seen := map[string]struct{}{}
	for _, path := range sortedCopy(paths) {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		dest := filepath.Join(destDir, filepath.Base(path))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := copyFileAtomic(path, dest); err != nil {
			o.logger.Warn("failed to copy sidecar", "path", path, "error", err)
		}
	}
	if len(seen) > 0 {
		o.logger.Info("copied sidecar files", "count", len(seen), "dest", destDir)
	}
}

// isUnderDir reports whether path is inside root.
func isUnderDir(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// copyFileAtomic copies through a temp file in the destination directory and
// renames it into place, so a crash never leaves a partial destination. The
// source's modification time is preserved.
func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".keepsake-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}
