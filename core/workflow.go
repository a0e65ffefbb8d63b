package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/hashicorp/go-hclog"
)

// WorkItemKind distinguishes the two top-level units of resumable work.
type WorkItemKind string

const (
	WorkItemArchive    WorkItemKind = "archive"
	WorkItemStandalone WorkItemKind = "standalone"
)

// WorkItem is one archive or standalone file pending processing.
type WorkItem struct {
	Kind WorkItemKind
	Path string
}

// Key returns the item's normalized ledger identity.
func (w WorkItem) Key() string {
	if w.Kind == WorkItemArchive {
		return ArchiveKey(filepath.Base(w.Path))
	}
	return StandaloneKey(w.Path)
}

// Summary accumulates per-run outcome counts.
type Summary struct {
	Processed int
	Matched   int
	Warnings  int
	Errors    int
}

func (s *Summary) add(other Summary) {
	s.Processed += other.Processed
	s.Matched += other.Matched
	s.Warnings += other.Warnings
	s.Errors += other.Errors
}

// PipelineOptions are the per-run knobs for the reconciliation pass.
type PipelineOptions struct {
	// Live enables filesystem mutation; the default is a dry run.
	Live bool
	// ArchiveName targets a single archive by name or path.
	ArchiveName string
	// BatchSize caps the number of work items processed this run; zero means
	// no cap.
	BatchSize int
	// ForceExtract clears the workbench before extraction and overrides the
	// already-processed guard for a targeted archive.
	ForceExtract bool
	// CleanWorkbench clears the workbench at the end of the run even when a
	// work item failed partway through.
	CleanWorkbench bool
}

// Pipeline is the single-threaded reconciliation pass: one work item at a
// time, one media file at a time, in sorted order.
type Pipeline struct {
	logger hclog.Logger
	cfg    Config
	tool   MetadataTool
	opts   PipelineOptions

	fileLedger *Ledger
	workLedger *Ledger
	corruptLog *IssueLog

	primary      PrimaryIndex
	supplemental *SupplementalIndex
	resolver     *Resolver
	organizer    *Organizer
}

// NewPipeline builds a pipeline over an explicit configuration and tool.
func NewPipeline(logger hclog.Logger, cfg Config, tool MetadataTool, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		logger:     logger,
		cfg:        cfg,
		tool:       tool,
		opts:       opts,
		corruptLog: NewIssueLog(cfg.CorruptArchivesLog),
	}
}

// preflight verifies the required inputs before any mutation happens.
func (p *Pipeline) preflight() error {
	if _, err := os.Stat(p.cfg.JSONRepositoryDir); err != nil {
		return fmt.Errorf("JSON repository not found, run extract-json first: %w", err)
	}
	if _, err := os.Stat(p.cfg.ArchivesDir); err != nil {
		return fmt.Errorf("archive store not found: %w", err)
	}
	if pf, ok := p.tool.(interface{ Preflight() error }); ok {
		if err := pf.Preflight(); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the full pass. It returns the combined summary even when some
// work items fail; only precondition failures abort.
func (p *Pipeline) Run() (Summary, error) {
	var total Summary

	if p.opts.Live {
		p.logger.Info("running in live mode, files will be modified and moved")
	} else {
		p.logger.Info("running in dry-run mode, no files will be changed")
	}

	if err := p.preflight(); err != nil {
		return total, err
	}

	var err error
	p.workLedger, err = OpenWorkItemLedger(p.cfg.ProcessedWorkItemsLog)
	if err != nil {
		return total, err
	}
	p.fileLedger, err = OpenLedger(p.cfg.ProcessedFilesLog)
	if err != nil {
		return total, err
	}
	p.logger.Info("loaded ledgers",
		"work_items", p.workLedger.Len(), "media_files", p.fileLedger.Len())

	items, err := p.SelectWorkItems()
	if err != nil {
		return total, err
	}
	if len(items) == 0 {
		p.logger.Info("no pending work items")
		return total, nil
	}
	if p.opts.BatchSize > 0 && len(items) > p.opts.BatchSize {
		items = items[:p.opts.BatchSize]
		p.logger.Info("batch mode", "max_work_items", p.opts.BatchSize)
	}
	p.logger.Info("selected work items", "count", len(items))

	p.primary, err = BuildPrimaryIndex(p.cfg.JSONRepositoryDir)
	if err != nil {
		return total, err
	}
	p.supplemental, err = BuildSupplementalIndex(p.cfg.JSONRepositoryDir)
	if err != nil {
		return total, err
	}
	if len(p.primary) == 0 {
		p.logger.Warn("JSON repository is empty")
	}

	p.resolver = NewResolver(p.logger, p.tool)
	p.organizer = NewOrganizer(p.logger, p.cfg, p.tool, p.fileLedger, !p.opts.Live)

	for _, item := range items {
		summary, err := p.processWorkItem(item)
		total.add(summary)
		if err != nil {
			if errors.Is(err, errWorkbenchNotEmpty) {
				// Extracting over leftovers would reconcile the wrong files and
				// then mark this item done. Stop the whole run instead.
				return total, err
			}
			p.logger.Error("work item failed", "item", filepath.Base(item.Path), "error", err)
			total.Errors++
			continue
		}

		if p.opts.Live {
			p.logger.Info("marking work item processed", "item", filepath.Base(item.Path))
			if err := p.workLedger.Append(item.Key()); err != nil {
				return total, err
			}
		}
		// Every completed archive cleans up after itself so the next item, or
		// the next run, starts from an empty extraction area.
		if item.Kind == WorkItemArchive {
			p.cleanWorkbench()
		}
	}
	if p.opts.CleanWorkbench {
		p.cleanWorkbench()
	}

	p.logger.Info("run complete", "processed", total.Processed, "matched", total.Matched,
		"warnings", total.Warnings, "errors", total.Errors)
	return total, nil
}

// SelectWorkItems computes the pending set: all discovered candidates minus
// the completed work-item ledger, sorted by lowercased basename.
func (p *Pipeline) SelectWorkItems() ([]WorkItem, error) {
	if p.opts.ArchiveName != "" {
		path, err := p.resolveArchivePath(p.opts.ArchiveName)
		if err != nil {
			return nil, err
		}
		if strings.ToLower(filepath.Ext(path)) != ".zip" {
			item := WorkItem{Kind: WorkItemStandalone, Path: path}
			if p.workLedger.Contains(item.Key()) && !p.opts.ForceExtract {
				return nil, fmt.Errorf("standalone file already marked processed: %q", path)
			}
			return []WorkItem{item}, nil
		}
		item := WorkItem{Kind: WorkItemArchive, Path: path}
		if p.workLedger.Contains(item.Key()) && !p.opts.ForceExtract {
			return nil, fmt.Errorf("archive already marked processed: %q", filepath.Base(path))
		}
		return []WorkItem{item}, nil
	}

	entries, err := os.ReadDir(p.cfg.ArchivesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive store: %w", err)
	}
	var items []WorkItem
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".zip" {
			continue
		}
		item := WorkItem{Kind: WorkItemArchive, Path: filepath.Join(p.cfg.ArchivesDir, e.Name())}
		if p.workLedger.Contains(item.Key()) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(filepath.Base(items[i].Path)) < strings.ToLower(filepath.Base(items[j].Path))
	})
	return items, nil
}

// resolveArchivePath accepts an absolute path or a name under the archive
// store.
func (p *Pipeline) resolveArchivePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("archive not found: %q", name)
	}
	candidate := filepath.Join(p.cfg.ArchivesDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", fmt.Errorf("archive not found: %q", name)
}

// processWorkItem expands one work item into media files and drives each to a
// terminal state.
func (p *Pipeline) processWorkItem(item WorkItem) (Summary, error) {
	if item.Kind == WorkItemStandalone {
		p.logger.Info("processing standalone file", "path", item.Path)
		return p.processMediaFiles([]string{item.Path})
	}

	info, err := os.Stat(item.Path)
	if err != nil {
		return Summary{}, err
	}
	p.logger.Info("extracting archive", "archive", filepath.Base(item.Path),
		"size_gb", fmt.Sprintf("%.2f", float64(info.Size())/(1<<30)))

	if !p.opts.Live {
		// Dry runs never extract and never trust workbench leftovers; decisions
		// are computed against the archive's own listing.
		media, err := listArchiveMedia(context.Background(), item.Path, p.cfg.ExtractTargetDir)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to read archive: %w", err)
		}
		return p.processMediaFiles(media)
	}

	if err := p.extractToWorkbench(item.Path); err != nil {
		if errors.Is(err, errWorkbenchNotEmpty) {
			return Summary{}, err
		}
		// Corrupt source: the archive is left untouched and recorded.
		if lerr := p.corruptLog.Record(item.Path, err.Error()); lerr != nil {
			p.logger.Warn("failed to record corrupt archive", "error", lerr)
		}
		return Summary{}, fmt.Errorf("failed to extract archive: %w", err)
	}

	media, err := ListMediaFiles(p.cfg.ExtractTargetDir)
	if err != nil {
		return Summary{}, err
	}
	if len(media) == 0 {
		p.logger.Warn("workbench contains no media files")
	}
	return p.processMediaFiles(media)
}

// processMediaFiles walks a sorted media list, short-circuiting files already
// in the per-file ledger. Files with no name-based sidecar match are held back
// for the title-driven pass. Per-file errors become warnings; the walk always
// continues.
func (p *Pipeline) processMediaFiles(files []string) (Summary, error) {
	var summary Summary

	bar := pb.StartNew(len(files))
	defer bar.Finish()

	var deferred []string
	for _, mediaPath := range files {
		bar.Increment()
		if p.fileLedger.Contains(mediaPath) {
			continue
		}

		baseName := filepath.Base(mediaPath)
		match := MatchJSONForMedia(baseName, p.primary)
		if len(match.Primary)+len(match.Supplemental) == 0 {
			deferred = append(deferred, mediaPath)
			continue
		}

		summary.Matched++
		p.logger.Info("matched sidecars", "file", baseName,
			"primary", len(match.Primary), "supplemental", len(match.Supplemental))
		p.commitOne(mediaPath, match, &summary)
	}

	summary.add(p.processDeferred(deferred))
	return summary, nil
}

// processDeferred is the title-driven second pass over media no sidecar
// claimed by name. The export mangles filenames (truncation, character
// substitution) in ways the name-based candidates cannot reverse, but the
// sidecar's title field still holds the original name, so the search runs the
// other way: from each sidecar's declared title to the filenames the export
// could have produced for it.
func (p *Pipeline) processDeferred(files []string) Summary {
	var summary Summary
	if len(files) == 0 {
		return summary
	}

	index := make(MediaIndex, len(files))
	for _, f := range files {
		key := strings.ToLower(filepath.Base(f))
		index[key] = append(index[key], f)
	}

	names := make([]string, 0, len(p.primary))
	for name := range p.primary {
		names = append(names, name)
	}
	sort.Strings(names)

	claimed := map[string]struct{}{}
	matches := map[string]MatchResult{}
	for _, name := range names {
		sidecarPath := p.primary[name]
		title, ok := TitleFromSidecarFile(sidecarPath)
		if !ok {
			continue
		}
		suffix, _ := ExtractJSONSuffix(name)
		candidates := GenerateTakeoutCandidates(title, suffix)
		mediaPath, ok := FindMediaFromIndex(candidates, claimed, index)
		if !ok {
			continue
		}

		claimed[mediaPath] = struct{}{}
		matches[mediaPath] = MatchResult{
			Primary:      []string{sidecarPath},
			Supplemental: FindSupplementalFor(filepath.Base(mediaPath), p.supplemental),
		}
		summary.Matched++
		p.logger.Info("matched media by sidecar title", "file", filepath.Base(mediaPath),
			"sidecar", name, "title", title)
	}

	for _, mediaPath := range files {
		match, ok := matches[mediaPath]
		if !ok {
			p.logger.Info("no sidecar match", "file", filepath.Base(mediaPath))
		}
		p.commitOne(mediaPath, match, &summary)
	}
	return summary
}

// commitOne drives one media file to a terminal state and folds the outcome
// into the summary.
func (p *Pipeline) commitOne(mediaPath string, match MatchResult, summary *Summary) {
	baseName := filepath.Base(mediaPath)
	resolved := p.resolver.Resolve(mediaPath, match)
	outcome, err := p.organizer.Commit(mediaPath, resolved, match)
	if err != nil {
		p.logger.Error("failed to process media file", "file", baseName, "error", err)
		summary.Errors++
		return
	}

	p.logger.Info("file outcome", "file", baseName, "outcome", outcome.Kind, "dest", outcome.Dest)
	if outcome.Warning {
		summary.Warnings++
	}
	summary.Processed++
}

// errWorkbenchNotEmpty aborts the run. Leftover contents belong to some
// earlier, possibly interrupted run; reconciling them under a different work
// item's key would mark that item done without its media ever being seen.
var errWorkbenchNotEmpty = errors.New("workbench is not empty, use -force-extract to overwrite")

// extractToWorkbench expands a zip archive into the workbench extraction
// area. The workbench must be empty unless force extraction was requested.
func (p *Pipeline) extractToWorkbench(archivePath string) error {
	if p.opts.ForceExtract {
		if err := os.RemoveAll(p.cfg.ExtractTargetDir); err != nil {
			return err
		}
	} else if has, err := workbenchHasFiles(p.cfg.ExtractTargetDir); err != nil {
		return err
	} else if has {
		return fmt.Errorf("%w: %s", errWorkbenchNotEmpty, p.cfg.ExtractTargetDir)
	}
	if err := os.MkdirAll(p.cfg.ExtractTargetDir, 0755); err != nil {
		return err
	}
	return extractArchive(context.Background(), archivePath, p.cfg.ExtractTargetDir, nil)
}

// cleanWorkbench clears the extraction area between work items. Dry runs
// never touch it.
func (p *Pipeline) cleanWorkbench() {
	if !p.opts.Live {
		return
	}
	p.logger.Info("cleaning workbench extraction directory")
	if err := os.RemoveAll(p.cfg.ExtractTargetDir); err != nil {
		p.logger.Warn("failed to clean workbench", "error", err)
		return
	}
	if err := os.MkdirAll(p.cfg.ExtractTargetDir, 0755); err != nil {
		p.logger.Warn("failed to recreate workbench", "error", err)
	}
}

// ListMediaFiles returns every non-JSON file under root, sorted by path for
// deterministic processing order.
func ListMediaFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list media under %q: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// workbenchHasFiles reports whether any regular file exists under dir.
func workbenchHasFiles(dir string) (bool, error) {
	if _, err := os.Stat(dir); err != nil {
		return false, nil
	}
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found, err
}
