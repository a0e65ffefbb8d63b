package core

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	archiveKeyPrefix    = "archive:"
	standaloneKeyPrefix = "standalone:"
)

// ArchiveKey normalizes an archive work-item identity. Archive names are
// matched case-insensitively so re-runs converge on the same key.
func ArchiveKey(name string) string {
	return archiveKeyPrefix + strings.ToLower(name)
}

// StandaloneKey normalizes a standalone work-item identity to a lowercased
// absolute path, so re-runs from different working directories converge.
func StandaloneKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return standaloneKeyPrefix + strings.ToLower(abs)
}

// NormalizeWorkItemKey re-normalizes a raw ledger line. Unrecognized lines
// return false and are ignored on load.
func NormalizeWorkItemKey(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, archiveKeyPrefix):
		return ArchiveKey(strings.TrimSpace(raw[len(archiveKeyPrefix):])), true
	case strings.HasPrefix(raw, standaloneKeyPrefix):
		return StandaloneKey(strings.TrimSpace(raw[len(standaloneKeyPrefix):])), true
	}
	return "", false
}

// Ledger is a durable, append-only, line-oriented set of keys. The whole file
// is loaded at open; appends go straight to disk so an interrupt loses at
// most the in-flight entry. Callers never touch the underlying file.
type Ledger struct {
	path      string
	normalize func(string) (string, bool)
	entries   map[string]struct{}
}

// identityNormalize keeps ledger lines as-is. Used for the per-file ledger,
// whose entries are literal source paths.
func identityNormalize(line string) (string, bool) {
	line = strings.TrimSpace(line)
	return line, line != ""
}

// OpenLedger loads a line-oriented ledger, creating nothing until the first
// append. A missing file is an empty ledger.
func OpenLedger(path string) (*Ledger, error) {
	return openLedger(path, identityNormalize)
}

// OpenWorkItemLedger loads a ledger whose lines are normalized work-item
// keys.
func OpenWorkItemLedger(path string) (*Ledger, error) {
	return openLedger(path, NormalizeWorkItemKey)
}

func openLedger(path string, normalize func(string) (string, bool)) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		normalize: normalize,
		entries:   make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if key, ok := normalize(scanner.Text()); ok {
			l.entries[key] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger %q: %w", path, err)
	}
	return l, nil
}

// Contains reports whether a key has been recorded.
func (l *Ledger) Contains(key string) bool {
	normalized, ok := l.normalize(key)
	if !ok {
		return false
	}
	_, found := l.entries[normalized]
	return found
}

// Append durably records a key. Appending an already-present key is a no-op,
// keeping re-runs idempotent.
func (l *Ledger) Append(key string) error {
	normalized, ok := l.normalize(key)
	if !ok {
		return fmt.Errorf("unrecognized ledger key %q", key)
	}
	if _, found := l.entries[normalized]; found {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger %q for append: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(normalized + "\n"); err != nil {
		return fmt.Errorf("failed to append to ledger %q: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger %q: %w", l.path, err)
	}
	l.entries[normalized] = struct{}{}
	return nil
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// All returns a copy of the recorded key set.
func (l *Ledger) All() map[string]struct{} {
	out := make(map[string]struct{}, len(l.entries))
	for k := range l.entries {
		out[k] = struct{}{}
	}
	return out
}

// IssueLog is an append-only record of problems for later human review, one
// "value|context" line per issue. It is write-and-count only; nothing in the
// pipeline reads issues back.
type IssueLog struct {
	path string
}

// NewIssueLog points at a log file without creating it.
func NewIssueLog(path string) *IssueLog {
	return &IssueLog{path: path}
}

// Record appends one issue line.
func (i *IssueLog) Record(value, context string) error {
	f, err := os.OpenFile(i.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open issue log %q: %w", i.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value + "|" + context + "\n"); err != nil {
		return fmt.Errorf("failed to append to issue log %q: %w", i.path, err)
	}
	return nil
}

// Count returns the number of recorded issues. A missing log counts zero.
func (i *IssueLog) Count() (int, error) {
	f, err := os.Open(i.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, scanner.Err()
}
