package core

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range members {
		mw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := mw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPipelineLiveRun(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/Photos from 2021/IMG_0001.jpg":      "jpeg-bytes",
		"Takeout/Photos from 2021/IMG_0001.jpg.json": `{"title": "IMG_0001.jpg"}`,
	})
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0001.jpg.json",
		`{"photoTakenTime": {"timestamp": "1629475200"}}`)

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	summary, err := pipeline.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 || summary.Matched != 1 || summary.Errors != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	committed := filepath.Join(cfg.LibraryDir, "2021", "08", "IMG_0001", "IMG_0001.jpg")
	if _, err := os.Stat(committed); err != nil {
		t.Errorf("committed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(committed), "IMG_0001.jpg.json")); err != nil {
		t.Errorf("sidecar not copied alongside: %v", err)
	}

	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		t.Fatal(err)
	}
	if !workLedger.Contains(ArchiveKey("takeout-001.zip")) {
		t.Error("archive not recorded in work-item ledger")
	}
}

func TestPipelineSecondRunIsIdempotent(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/Photos from 2021/IMG_0001.jpg": "jpeg-bytes",
	})
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0001.jpg.json",
		`{"photoTakenTime": {"timestamp": "1629475200"}}`)

	first := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	if _, err := first.Run(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	fileLedger, err := OpenLedger(cfg.ProcessedFilesLog)
	if err != nil {
		t.Fatal(err)
	}
	filesAfterFirst := fileLedger.Len()

	second := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	summary, err := second.Run()
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.Processed != 0 || summary.Errors != 0 {
		t.Errorf("second run did work: %+v", summary)
	}

	fileLedger, err = OpenLedger(cfg.ProcessedFilesLog)
	if err != nil {
		t.Fatal(err)
	}
	if fileLedger.Len() != filesAfterFirst {
		t.Errorf("file ledger grew from %d to %d", filesAfterFirst, fileLedger.Len())
	}
}

func TestPipelineDryRunTouchesNothing(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/Photos from 2021/IMG_0001.jpg": "jpeg-bytes",
	})
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0001.jpg.json",
		`{"photoTakenTime": {"timestamp": "1629475200"}}`)

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{})
	summary, err := pipeline.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 || summary.Matched != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	// Nothing extracted, nothing committed, no ledgers written.
	if has, _ := workbenchHasFiles(cfg.ExtractTargetDir); has {
		t.Error("dry run extracted into the workbench")
	}
	if entries, _ := os.ReadDir(cfg.LibraryDir); len(entries) != 0 {
		t.Error("dry run wrote to the library")
	}
	if _, err := os.Stat(cfg.ProcessedWorkItemsLog); !os.IsNotExist(err) {
		t.Error("dry run wrote the work-item ledger")
	}
	if _, err := os.Stat(cfg.ProcessedFilesLog); !os.IsNotExist(err) {
		t.Error("dry run wrote the per-file ledger")
	}
}

func TestPipelineBatchSize(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/a/IMG_0001.jpg": "x",
	})
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-002.zip"), map[string]string{
		"Takeout/a/IMG_0002.jpg": "x",
	})

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(),
		PipelineOptions{Live: true, BatchSize: 1})
	if _, err := pipeline.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		t.Fatal(err)
	}
	if workLedger.Len() != 1 {
		t.Fatalf("work ledger has %d entries, want 1", workLedger.Len())
	}
	// Sorted order means the first archive wins the batch slot.
	if !workLedger.Contains(ArchiveKey("takeout-001.zip")) {
		t.Error("batch did not process archives in sorted order")
	}
}

func TestPipelineSequentialBatchRuns(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/a/IMG_0001.jpg": "jpeg-bytes",
	})
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-002.zip"), map[string]string{
		"Takeout/a/IMG_0002.jpg": "jpeg-bytes",
	})
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0001.jpg.json",
		`{"photoTakenTime": {"timestamp": "1629475200"}}`)
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0002.jpg.json",
		`{"photoTakenTime": {"timestamp": "1612137600"}}`)

	for run := 1; run <= 2; run++ {
		pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(),
			PipelineOptions{Live: true, BatchSize: 1})
		summary, err := pipeline.Run()
		if err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
		if summary.Processed != 1 || summary.Errors != 0 {
			t.Fatalf("run %d summary = %+v", run, summary)
		}
	}

	// The second run must extract the second archive rather than reconcile
	// whatever the first run left behind; each archive's media has to reach
	// the library before its ledger entry appears.
	for _, want := range []string{
		filepath.Join(cfg.LibraryDir, "2021", "08", "IMG_0001", "IMG_0001.jpg"),
		filepath.Join(cfg.LibraryDir, "2021", "02", "IMG_0002", "IMG_0002.jpg"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("committed file missing: %v", err)
		}
	}

	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"takeout-001.zip", "takeout-002.zip"} {
		if !workLedger.Contains(ArchiveKey(name)) {
			t.Errorf("%s not recorded in work-item ledger", name)
		}
	}
}

func TestPipelineRefusesStaleWorkbench(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/a/IMG_0001.jpg": "jpeg-bytes",
	})
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0001.jpg.json",
		`{"photoTakenTime": {"timestamp": "1629475200"}}`)

	// Contents an interrupted earlier run never cleaned up.
	if err := os.MkdirAll(filepath.Join(cfg.ExtractTargetDir, "a"), 0755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(cfg.ExtractTargetDir, "a", "leftover.jpg")
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	if _, err := pipeline.Run(); err == nil {
		t.Fatal("expected the run to refuse a non-empty workbench")
	}

	// Nothing marked done, nothing committed, leftovers untouched.
	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		t.Fatal(err)
	}
	if workLedger.Len() != 0 {
		t.Error("refused run still recorded a work item")
	}
	if entries, _ := os.ReadDir(cfg.LibraryDir); len(entries) != 0 {
		t.Error("refused run wrote to the library")
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("leftover file was disturbed: %v", err)
	}

	// Force extraction clears the leftovers and processes the real archive.
	retry := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(),
		PipelineOptions{Live: true, ForceExtract: true})
	summary, err := retry.Run()
	if err != nil {
		t.Fatalf("force-extract run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("force-extract summary = %+v", summary)
	}
	committed := filepath.Join(cfg.LibraryDir, "2021", "08", "IMG_0001", "IMG_0001.jpg")
	if _, err := os.Stat(committed); err != nil {
		t.Errorf("committed file missing: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("force extraction kept the leftover contents")
	}
}

func TestPipelineStandaloneFile(t *testing.T) {
	cfg := testProject(t)
	media := writeMedia(t, t.TempDir(), "IMG_0050.jpg")
	writeSidecar(t, cfg.JSONRepositoryDir, "IMG_0050.jpg.json",
		`{"photoTakenTime": {"timestamp": "1612137600"}}`)

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(),
		PipelineOptions{Live: true, ArchiveName: media})
	summary, err := pipeline.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	committed := filepath.Join(cfg.LibraryDir, "2021", "02", "IMG_0050", "IMG_0050.jpg")
	if _, err := os.Stat(committed); err != nil {
		t.Errorf("committed file missing: %v", err)
	}

	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		t.Fatal(err)
	}
	if !workLedger.Contains(StandaloneKey(media)) {
		t.Error("standalone item not recorded")
	}

	// Targeting the same file again refuses rather than double-processing.
	again := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(),
		PipelineOptions{Live: true, ArchiveName: media})
	if _, err := again.Run(); err == nil {
		t.Error("expected an error re-targeting a processed standalone file")
	}
}

func TestPipelineCorruptArchive(t *testing.T) {
	cfg := testProject(t)
	corruptPath := filepath.Join(cfg.ArchivesDir, "broken.zip")
	if err := os.WriteFile(corruptPath, []byte("this is not a zip file"), 0644); err != nil {
		t.Fatal(err)
	}

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	summary, err := pipeline.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Errors != 1 {
		t.Errorf("summary.Errors = %d, want 1", summary.Errors)
	}

	count, err := NewIssueLog(cfg.CorruptArchivesLog).Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("corrupt archive count = %d, want 1", count)
	}

	// A failed archive is never marked done, so a fixed copy gets retried.
	workLedger, err := OpenWorkItemLedger(cfg.ProcessedWorkItemsLog)
	if err != nil {
		t.Fatal(err)
	}
	if workLedger.Contains(ArchiveKey("broken.zip")) {
		t.Error("corrupt archive was marked processed")
	}
}

func TestPipelineTitleFallbackMatch(t *testing.T) {
	// The export replaced '&' in the filename, so name-based candidates from
	// "cat_dog.jpg" never reach the sidecar. The sidecar's title field does.
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/a/cat_dog.jpg": "jpeg-bytes",
	})
	writeSidecar(t, cfg.JSONRepositoryDir, "cat&dog.jpg.json",
		`{"title": "cat&dog.jpg", "photoTakenTime": {"timestamp": "1629475200"}}`)

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	summary, err := pipeline.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Matched != 1 || summary.Processed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	committed := filepath.Join(cfg.LibraryDir, "2021", "08", "cat_dog", "cat_dog.jpg")
	if _, err := os.Stat(committed); err != nil {
		t.Errorf("committed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(committed), "cat&dog.jpg.json")); err != nil {
		t.Errorf("title-matched sidecar not copied alongside: %v", err)
	}
}

func TestPipelineUnmatchedMediaDiverted(t *testing.T) {
	cfg := testProject(t)
	writeZip(t, filepath.Join(cfg.ArchivesDir, "takeout-001.zip"), map[string]string{
		"Takeout/a/mystery.mp4": "video-bytes",
	})

	pipeline := NewPipeline(hclog.NewNullLogger(), cfg, newFakeTool(), PipelineOptions{Live: true})
	summary, err := pipeline.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Warnings != 1 {
		t.Errorf("summary.Warnings = %d, want 1", summary.Warnings)
	}
	if _, err := os.Stat(filepath.Join(cfg.OrphanDir, "mystery.mp4")); err != nil {
		t.Errorf("unmatched media not diverted: %v", err)
	}
}

func TestListMediaFiles(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b/z.jpg", "a.mp4", "a.jpg.json"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListMediaFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (JSON excluded): %v", len(files), files)
	}
	if filepath.Base(files[0]) != "a.mp4" || filepath.Base(files[1]) != "z.jpg" {
		t.Errorf("unexpected order: %v", files)
	}
}

func TestWorkItemKey(t *testing.T) {
	archive := WorkItem{Kind: WorkItemArchive, Path: "/store/Takeout-001.ZIP"}
	if got := archive.Key(); got != "archive:takeout-001.zip" {
		t.Errorf("archive key = %q", got)
	}
	standalone := WorkItem{Kind: WorkItemStandalone, Path: "/photos/IMG.jpg"}
	if got := standalone.Key(); got != "standalone:/photos/img.jpg" {
		t.Errorf("standalone key = %q", got)
	}
}
