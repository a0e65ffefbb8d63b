package core

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rwcarlsen/goexif/exif"
)

// GPSStatus is the result of probing a media file for an embedded coordinate.
// Present means the tags exist at all; Valid additionally means they parse as
// numbers and are not Null Island.
type GPSStatus struct {
	Present   bool
	Valid     bool
	Latitude  float64
	Longitude float64
}

// MetadataReader is the read side of the embedded-metadata tool contract.
type MetadataReader interface {
	ReadCaptureTimestamp(path string) (time.Time, bool)
	ReadGPS(path string) GPSStatus
	DetectTrueExtension(path string) string
}

// MetadataWriter is the write side. Failures are reported, never assumed
// successful, and never roll back an already-committed file.
type MetadataWriter interface {
	WriteTimestamps(path string, t time.Time) error
	WriteGPS(path string, lat, lon, alt float64) error
}

// MetadataTool is the full external collaborator contract.
type MetadataTool interface {
	MetadataReader
	MetadataWriter
}

const exifTimeLayout = "2006:01:02 15:04:05"

var exifDateTimeRe = regexp.MustCompile(`(\d{4}:\d{2}:\d{2} \d{2}:\d{2}:\d{2})`)

// toolBackend is one way of invoking ExifTool. Backends are tried in order,
// first success wins.
type toolBackend struct {
	name string
	argv []string
}

// runResult carries everything we need from one subprocess invocation.
type runResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// runFunc executes a command line; injectable so tests never spawn the tool.
type runFunc func(dir string, argv []string) (runResult, error)

func execRun(dir string, argv []string) (runResult, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := runResult{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// ExifTool drives the external metadata tool through an ordered backend list:
// the native binary first, then the interpreter-hosted script. Reads also try
// an in-process EXIF decode before spawning anything.
type ExifTool struct {
	logger   hclog.Logger
	dir      string
	backends []toolBackend
	run      runFunc
}

// NewExifTool builds the backend list from the configured install layout.
// Backends whose files are missing are skipped.
func NewExifTool(logger hclog.Logger, cfg Config) *ExifTool {
	t := &ExifTool{
		logger: logger,
		dir:    cfg.ExifToolDir,
		run:    execRun,
	}
	if _, err := os.Stat(cfg.ExifToolExe); err == nil {
		t.backends = append(t.backends, toolBackend{name: "exe", argv: []string{cfg.ExifToolExe}})
	}
	if _, err := os.Stat(cfg.ExifToolPerl); err == nil {
		t.backends = append(t.backends, toolBackend{
			name: "perl",
			argv: []string{cfg.ExifToolPerl, cfg.ExifToolScript},
		})
	}
	return t
}

// Preflight errors when no backend is available. The pipeline aborts before
// any mutation in that case.
func (t *ExifTool) Preflight() error {
	if len(t.backends) == 0 {
		return fmt.Errorf("no usable ExifTool found under %q", t.dir)
	}
	return nil
}

// runRead invokes a read-only query. ExifTool commonly exits nonzero over
// warnings while still printing usable output, so stdout is accepted either
// way; a backend fails only when it produces neither success nor output.
func (t *ExifTool) runRead(args []string) (runResult, error) {
	var lastErr error
	for _, b := range t.backends {
		res, err := t.run(t.dir, append(append([]string{}, b.argv...), args...))
		if err != nil {
			lastErr = fmt.Errorf("%s backend: %w", b.name, err)
			continue
		}
		if res.exitCode == 0 || strings.TrimSpace(res.stdout) != "" {
			return res, nil
		}
		lastErr = fmt.Errorf("%s backend: rc=%d stderr=%s", b.name, res.exitCode, cleanOutput(res.stderr))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable ExifTool found under %q", t.dir)
	}
	return runResult{}, lastErr
}

// runWrite invokes a mutating command. Writes require a clean exit; anything
// else falls through to the next backend.
func (t *ExifTool) runWrite(args []string) error {
	var lastErr error
	for _, b := range t.backends {
		res, err := t.run(t.dir, append(append([]string{}, b.argv...), args...))
		if err != nil {
			lastErr = fmt.Errorf("%s backend: %w", b.name, err)
			continue
		}
		if res.exitCode == 0 {
			return nil
		}
		lastErr = fmt.Errorf("%s backend: rc=%d stdout=%s stderr=%s",
			b.name, res.exitCode, cleanOutput(res.stdout), cleanOutput(res.stderr))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable ExifTool found under %q", t.dir)
	}
	return lastErr
}

// cleanOutput flattens subprocess output into a single bounded log line,
// keeping the tail since that is usually where the real error is.
func cleanOutput(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r", ""))
	const limit = 4000
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return strings.ReplaceAll(s, "\n", "\\n")
}

// ReadCaptureTimestamp returns the embedded capture time. JPEG/TIFF files are
// decoded in-process first; everything else, and anything the fast path
// cannot decode, goes through the external tool. A failed read is simply "no
// embedded data".
func (t *ExifTool) ReadCaptureTimestamp(path string) (time.Time, bool) {
	if ts, ok := readExifTimestampNative(path); ok {
		return ts, true
	}

	res, err := t.runRead([]string{
		"-s", "-s", "-s",
		"-DateTimeOriginal",
		"-CreateDate",
		"-MediaCreateDate",
		"-TrackCreateDate",
		"-QuickTime:CreateDate",
		path,
	})
	if err != nil {
		t.logger.Debug("embedded timestamp read failed", "path", path, "error", err)
		return time.Time{}, false
	}
	for _, line := range strings.Split(res.stdout, "\n") {
		if m := exifDateTimeRe.FindString(line); m != "" {
			ts, err := time.Parse(exifTimeLayout, m)
			if err != nil {
				continue
			}
			return ts, true
		}
	}
	return time.Time{}, false
}

// nativeExifExts are the formats the in-process decoder handles.
var nativeExifExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// readExifTimestampNative decodes EXIF in-process, preferring
// DateTimeOriginal and falling back to DateTimeDigitized.
func readExifTimestampNative(path string) (time.Time, bool) {
	if !nativeExifExts[strings.ToLower(filepath.Ext(path))] {
		return time.Time{}, false
	}
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		ts, err := time.Parse(exifTimeLayout, strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		return ts, true
	}
	return time.Time{}, false
}

// ReadGPS probes for embedded GPS tags using numeric output. Tags that exist
// but fail to parse read as present-but-invalid so a sidecar can fill in.
func (t *ExifTool) ReadGPS(path string) GPSStatus {
	res, err := t.runRead([]string{"-n", "-s", "-s", "-s", "-GPSLatitude", "-GPSLongitude", path})
	if err != nil {
		t.logger.Debug("embedded GPS read failed", "path", path, "error", err)
		return GPSStatus{}
	}
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	if len(lines) < 2 {
		return GPSStatus{}
	}
	latStr := strings.TrimSpace(lines[0])
	lonStr := strings.TrimSpace(lines[1])
	if latStr == "" || lonStr == "" {
		return GPSStatus{}
	}

	lat, latErr := strconv.ParseFloat(latStr, 64)
	lon, lonErr := strconv.ParseFloat(lonStr, 64)
	if latErr != nil || lonErr != nil {
		return GPSStatus{Present: true}
	}
	return GPSStatus{
		Present:   true,
		Valid:     ValidGPS(lat, lon),
		Latitude:  lat,
		Longitude: lon,
	}
}

// DetectTrueExtension returns the extension implied by the file's content,
// e.g. ".jpg" for a JPEG mislabeled as .HEIC. Falls back to the filename's
// extension when the tool cannot tell.
func (t *ExifTool) DetectTrueExtension(path string) string {
	res, err := t.runRead([]string{"-s3", "-FileTypeExtension", path})
	if err == nil {
		ext := strings.ToLower(strings.TrimSpace(res.stdout))
		if ext != "" && ext != "none" {
			return "." + ext
		}
	}
	return filepath.Ext(path)
}

// WriteTimestamps stamps the capture, creation, and modification times.
func (t *ExifTool) WriteTimestamps(path string, ts time.Time) error {
	stamp := ts.Format(exifTimeLayout)
	return t.runWrite([]string{
		"-DateTimeOriginal=" + stamp,
		"-CreateDate=" + stamp,
		"-FileModifyDate=" + stamp,
		"-overwrite_original", "-P", path,
	})
}

// WriteGPS embeds a coordinate.
func (t *ExifTool) WriteGPS(path string, lat, lon, alt float64) error {
	return t.runWrite([]string{
		"-GPSLatitude=" + strconv.FormatFloat(lat, 'f', -1, 64),
		"-GPSLongitude=" + strconv.FormatFloat(lon, 'f', -1, 64),
		"-GPSAltitude=" + strconv.FormatFloat(alt, 'f', -1, 64),
		"-overwrite_original", "-P", path,
	})
}

// NormalizeExtension renames a committed file in place when its content type
// disagrees with its filename extension. Collisions are never overwritten;
// the original path is returned unchanged in that case.
func NormalizeExtension(logger hclog.Logger, tool MetadataReader, path string) string {
	realExt := tool.DetectTrueExtension(path)
	if realExt == "" {
		return path
	}
	if strings.EqualFold(filepath.Ext(path), realExt) {
		return path
	}

	newPath := strings.TrimSuffix(path, filepath.Ext(path)) + realExt
	if _, err := os.Stat(newPath); err == nil {
		logger.Warn("extension mismatch but target name exists, leaving as-is",
			"path", path, "detected", realExt)
		return path
	}
	if err := os.Rename(path, newPath); err != nil {
		logger.Warn("failed to rename mis-extended file", "path", path, "error", err)
		return path
	}
	logger.Info("renamed mis-extended file", "from", filepath.Base(path), "to", filepath.Base(newPath))
	return newPath
}
