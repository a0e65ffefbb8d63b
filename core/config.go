package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is looked up under the project root.
const ConfigFileName = "keepsake.toml"

// DefaultMaxPathLength leaves a safety buffer below the Windows 260-char limit.
const DefaultMaxPathLength = 240

// fileConfig is the on-disk TOML shape. Everything is optional; unset values
// fall back to the standard project layout under the project root.
type fileConfig struct {
	LibraryDir    string `toml:"library_dir"`
	ArchivesDir   string `toml:"archives_dir"`
	ExifToolDir   string `toml:"exiftool_dir"`
	MaxPathLength int    `toml:"max_path_length"`
}

// Config holds every path and limit the pipeline uses. It is constructed once
// and never mutated afterwards; components receive it explicitly.
type Config struct {
	ProjectRoot string

	// Mutable extraction area. Files here may be moved.
	WorkbenchDir     string
	ExtractTargetDir string

	// Read-only archive store. Files under here are only ever copied.
	ArchivesDir string

	JSONRepositoryDir string
	JSONConflictsDir  string

	// ExifTool install: native binary first, interpreter-hosted script second.
	ExifToolDir    string
	ExifToolExe    string
	ExifToolPerl   string
	ExifToolScript string

	LibraryDir     string
	NeedsReviewDir string
	OrphanDir      string
	PathTooLongDir string

	ProcessedFilesLog     string
	ProcessedWorkItemsLog string
	ExtractedArchivesLog  string

	ExifToolFailuresLog string
	PathTooLongLog      string
	CorruptArchivesLog  string

	MaxPathLength int
}

// DefaultConfig builds the standard project layout rooted at projectRoot.
func DefaultConfig(projectRoot string) Config {
	c := Config{
		ProjectRoot:   projectRoot,
		WorkbenchDir:  filepath.Join(projectRoot, "workbench"),
		ArchivesDir:   filepath.Join(projectRoot, "takeout-archives"),
		ExifToolDir:   filepath.Join(projectRoot, "tools", "exiftool"),
		LibraryDir:    filepath.Join(projectRoot, "library"),
		MaxPathLength: DefaultMaxPathLength,
	}
	return finishConfig(c)
}

// finishConfig derives every dependent path from the base directories.
func finishConfig(c Config) Config {
	c.ExtractTargetDir = filepath.Join(c.WorkbenchDir, "Takeout")
	c.JSONRepositoryDir = filepath.Join(c.ProjectRoot, "json-repository")
	c.JSONConflictsDir = filepath.Join(c.ProjectRoot, "json-conflicts")

	c.ExifToolExe = filepath.Join(c.ExifToolDir, "exiftool")
	c.ExifToolPerl = filepath.Join(c.ExifToolDir, "exiftool_files", "perl")
	c.ExifToolScript = filepath.Join(c.ExifToolDir, "exiftool_files", "exiftool.pl")

	c.NeedsReviewDir = filepath.Join(c.LibraryDir, "__NEEDS_REVIEW__")
	c.OrphanDir = filepath.Join(c.NeedsReviewDir, "unmatched-media")
	c.PathTooLongDir = filepath.Join(c.NeedsReviewDir, "path-too-long")

	c.ProcessedFilesLog = filepath.Join(c.WorkbenchDir, ".processed_files.log")
	c.ProcessedWorkItemsLog = filepath.Join(c.ProjectRoot, ".processed_work_items.log")
	c.ExtractedArchivesLog = filepath.Join(c.ProjectRoot, ".extracted_archives.log")

	c.ExifToolFailuresLog = filepath.Join(c.ProjectRoot, ".exiftool_failures.log")
	c.PathTooLongLog = filepath.Join(c.ProjectRoot, ".path_too_long.log")
	c.CorruptArchivesLog = filepath.Join(c.ProjectRoot, ".corrupt_archives.log")

	if c.MaxPathLength <= 0 {
		c.MaxPathLength = DefaultMaxPathLength
	}
	return c
}

// LoadConfig reads keepsake.toml under projectRoot if present and overlays it
// on the defaults. A missing config file is not an error.
func LoadConfig(projectRoot string) (Config, error) {
	c := DefaultConfig(projectRoot)

	data, err := os.ReadFile(filepath.Join(projectRoot, ConfigFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
	}

	if fc.LibraryDir != "" {
		c.LibraryDir = fc.LibraryDir
	}
	if fc.ArchivesDir != "" {
		c.ArchivesDir = fc.ArchivesDir
	}
	if fc.ExifToolDir != "" {
		c.ExifToolDir = fc.ExifToolDir
	}
	if fc.MaxPathLength > 0 {
		c.MaxPathLength = fc.MaxPathLength
	}
	return finishConfig(c), nil
}

// SampleConfig is written by the init command as a starting point.
const SampleConfig = `# keepsake project configuration
#
# All settings are optional. Relative paths are resolved against the current
# working directory, so absolute paths are recommended.

# Where the final dated library is written.
#library_dir = "/mnt/photos/library"

# Read-only store of takeout .zip archives. Never modified by keepsake.
#archives_dir = "/mnt/photos/takeout-archives"

# ExifTool install directory containing the exiftool binary and, optionally,
# exiftool_files/perl plus exiftool_files/exiftool.pl as a fallback.
#exiftool_dir = "/opt/exiftool"

# Destination paths at or above this length are diverted for review.
#max_path_length = 240
`

// WriteSampleConfig creates keepsake.toml under projectRoot. It refuses to
// clobber an existing file.
func WriteSampleConfig(projectRoot string) error {
	path := filepath.Join(projectRoot, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(SampleConfig), 0644)
}
