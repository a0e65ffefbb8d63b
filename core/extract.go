package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mholt/archives"
)

// extractArchive expands every member of an archive into destDir. When filter
// is non-nil only members it accepts are extracted. The archive itself is
// only ever read.
func extractArchive(ctx context.Context, archivePath, destDir string, filter func(name string) bool) error {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}

	return fs.WalkDir(fsys, ".", func(member string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filter != nil && !filter(member) {
			return nil
		}

		dest := filepath.Join(destDir, filepath.FromSlash(member))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}

		in, err := fsys.Open(member)
		if err != nil {
			return fmt.Errorf("failed to open archive member %q: %w", member, err)
		}
		defer in.Close()

		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			os.Remove(dest)
			return fmt.Errorf("failed to extract %q: %w", member, err)
		}
		return out.Close()
	})
}

// listArchiveMedia enumerates the non-JSON members of an archive without
// extracting anything, mapping each to the path it would occupy under
// virtualRoot. Used by dry runs.
func listArchiveMedia(ctx context.Context, archivePath, virtualRoot string) ([]string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}

	var media []string
	err = fs.WalkDir(fsys, ".", func(member string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(strings.ToLower(member), ".json") {
			return nil
		}
		media = append(media, filepath.Join(virtualRoot, filepath.FromSlash(member)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(media)
	return media, nil
}

// ExtractSummary reports what one consolidation run did.
type ExtractSummary struct {
	ArchivesProcessed int
	JSONExtracted     int
	Conflicts         int
	CorruptArchives   int
}

// ConsolidateJSON is the first pass: it copies every sidecar JSON file out of
// every unprocessed archive into the flat JSON repository. Identical
// duplicates are skipped; same-name-different-content files are preserved
// under the conflicts directory for review. Archives that cannot be opened
// are recorded and skipped. Its own ledger makes re-runs instantaneous.
func ConsolidateJSON(logger hclog.Logger, cfg Config) (ExtractSummary, error) {
	var summary ExtractSummary

	if _, err := os.Stat(cfg.ArchivesDir); err != nil {
		return summary, fmt.Errorf("archive store not found: %w", err)
	}
	for _, dir := range []string{cfg.JSONRepositoryDir, cfg.JSONConflictsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return summary, err
		}
	}

	ledger, err := OpenLedger(cfg.ExtractedArchivesLog)
	if err != nil {
		return summary, err
	}
	corruptLog := NewIssueLog(cfg.CorruptArchivesLog)
	logger.Info("loaded extraction ledger", "archives", ledger.Len())

	entries, err := os.ReadDir(cfg.ArchivesDir)
	if err != nil {
		return summary, fmt.Errorf("failed to list archive store: %w", err)
	}
	var pending []string
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".zip" {
			continue
		}
		if ledger.Contains(e.Name()) {
			continue
		}
		pending = append(pending, e.Name())
	}
	sort.Strings(pending)

	if len(pending) == 0 {
		logger.Info("no new archives, JSON repository is up to date")
		return summary, nil
	}
	logger.Info("consolidating sidecar JSON", "archives", len(pending))

	for _, name := range pending {
		archivePath := filepath.Join(cfg.ArchivesDir, name)
		logger.Info("processing archive", "archive", name)

		extracted, conflicts, err := consolidateOne(context.Background(), archivePath, cfg)
		if err != nil {
			logger.Error("archive unreadable, skipping", "archive", name, "error", err)
			if lerr := corruptLog.Record(archivePath, err.Error()); lerr != nil {
				logger.Warn("failed to record corrupt archive", "error", lerr)
			}
			summary.CorruptArchives++
			continue
		}

		summary.ArchivesProcessed++
		summary.JSONExtracted += extracted
		summary.Conflicts += conflicts
		logger.Info("archive done", "archive", name, "json_files", extracted, "conflicts", conflicts)

		if err := ledger.Append(name); err != nil {
			return summary, err
		}
	}

	logger.Info("consolidation complete", "archives", summary.ArchivesProcessed,
		"json_files", summary.JSONExtracted, "conflicts", summary.Conflicts,
		"corrupt", summary.CorruptArchives)
	return summary, nil
}

// consolidateOne copies the JSON members of one archive into the repository.
func consolidateOne(ctx context.Context, archivePath string, cfg Config) (extracted, conflicts int, err error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open archive: %w", err)
	}

	err = fs.WalkDir(fsys, ".", func(member string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(member), ".json") {
			return nil
		}

		data, err := fs.ReadFile(fsys, member)
		if err != nil {
			return fmt.Errorf("failed to read member %q: %w", member, err)
		}

		name := path.Base(member)
		dest := filepath.Join(cfg.JSONRepositoryDir, name)
		existing, err := os.ReadFile(dest)
		if err == nil {
			if bytes.Equal(existing, data) {
				return nil
			}
			// Same name, different content: keep both, the new one under the
			// conflicts directory.
			conflicts++
			return writeConflict(cfg.JSONConflictsDir, name, data)
		}

		if err := os.WriteFile(dest, data, 0644); err != nil {
			return err
		}
		extracted++
		return nil
	})
	return extracted, conflicts, err
}

// writeConflict stores a conflicting sidecar under a numbered name that does
// not collide with anything already saved.
func writeConflict(conflictsDir, name string, data []byte) error {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		dest := filepath.Join(conflictsDir, fmt.Sprintf("%s.conflict-%d%s", stem, i, ext))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		return os.WriteFile(dest, data, 0644)
	}
}
