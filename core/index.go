package core

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var supTailRe = regexp.MustCompile(`(?i)\.sup(\(\d+\))?\.json$`)

// IsSupplementalName reports whether a sidecar filename carries a
// supplemental-metadata marker.
func IsSupplementalName(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, ".supplemental-metadata") {
		return true
	}
	return supTailRe.MatchString(lower)
}

// stripSupplementalMarker removes the supplemental marker (and anything after
// it) from a sidecar filename, returning the base name and whether a marker
// was found.
func stripSupplementalMarker(name string) (string, bool) {
	lower := strings.ToLower(name)
	if i := strings.Index(lower, ".supplemental-metadata"); i >= 0 {
		return name[:i], true
	}
	if loc := supTailRe.FindStringIndex(name); loc != nil {
		return name[:loc[0]], true
	}
	return name, false
}

// PrimaryIndex maps lowercase sidecar filenames to their full paths. Source
// names are expected unique, so last-write-wins on a duplicate key.
type PrimaryIndex map[string]string

// BuildPrimaryIndex scans a flat directory of sidecar JSON files.
func BuildPrimaryIndex(dir string) (PrimaryIndex, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON repository %q: %w", dir, err)
	}
	index := make(PrimaryIndex, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		index[strings.ToLower(name)] = filepath.Join(dir, name)
	}
	return index, nil
}

// SupplementalIndex is an ordered multimap from de-suffixed lowercase base
// names to the sidecar paths that could belong to them. Construction and
// lookup are separate so each can be tested on its own.
type SupplementalIndex struct {
	entries map[string][]string
}

// NewSupplementalIndex returns an empty index.
func NewSupplementalIndex() *SupplementalIndex {
	return &SupplementalIndex{entries: make(map[string][]string)}
}

// Add records a candidate path under a key, preserving insertion order and
// ignoring exact duplicates.
func (s *SupplementalIndex) Add(key, path string) {
	key = strings.ToLower(key)
	for _, existing := range s.entries[key] {
		if existing == path {
			return
		}
	}
	s.entries[key] = append(s.entries[key], path)
}

// Get returns the ordered candidate list for a key, or nil.
func (s *SupplementalIndex) Get(key string) []string {
	return s.entries[strings.ToLower(key)]
}

// Len returns the number of distinct keys.
func (s *SupplementalIndex) Len() int {
	return len(s.entries)
}

// BuildSupplementalIndex scans a directory of sidecar JSON files and indexes
// every supplemental sidecar under each base key it could answer for: the
// marker is stripped, title-variant placements are applied, and any inline
// uniqueness suffix is removed for an additional key.
func BuildSupplementalIndex(dir string) (*SupplementalIndex, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON repository %q: %w", dir, err)
	}
	index := NewSupplementalIndex()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		base, ok := stripSupplementalMarker(name)
		if !ok {
			continue
		}

		fullPath := filepath.Join(dir, name)
		for _, variant := range NormalizeTitleVariants(base) {
			index.Add(variant, fullPath)
			if suffix, ok := extractLooseSuffix(variant); ok {
				index.Add(strings.Replace(variant, suffix, "", 1), fullPath)
			}
		}
	}
	return index, nil
}

// FindSupplementalFor returns every supplemental sidecar that exactly matches
// the expected names for one media file. It reuses the media file's own
// suffix, never guessing others, and returns nil on anything short of an
// exact name match.
func FindSupplementalFor(mediaBasename string, index *SupplementalIndex) []string {
	variants := NormalizeTitleVariants(mediaBasename)

	var suffix, base string
	for _, v := range variants {
		if found, ok := extractLooseSuffix(v); ok {
			suffix = found
			base = strings.Replace(v, found, "", 1)
			break
		}
	}
	if base == "" {
		base = mediaBasename
	}

	candidates := index.Get(base)
	if len(candidates) == 0 {
		return nil
	}

	expected := map[string]struct{}{}
	if suffix != "" {
		for _, b := range NormalizeTitleVariants(base) {
			expected[strings.ToLower(b+".supplemental-metadata"+suffix+".json")] = struct{}{}
			expected[strings.ToLower(b+".sup"+suffix+".json")] = struct{}{}
		}
		withSuffix := append([]string{}, variants...)
		withSuffix = append(withSuffix, base+suffix)
		for _, v := range withSuffix {
			expected[strings.ToLower(v+".supplemental-metadata.json")] = struct{}{}
			expected[strings.ToLower(v+".supplemental-metadata"+suffix+".json")] = struct{}{}
			expected[strings.ToLower(v+".sup.json")] = struct{}{}
			expected[strings.ToLower(v+".sup"+suffix+".json")] = struct{}{}
		}
	} else {
		for _, v := range variants {
			expected[strings.ToLower(v+".supplemental-metadata.json")] = struct{}{}
			expected[strings.ToLower(v+".sup.json")] = struct{}{}
		}
	}

	var matching []string
	for _, path := range candidates {
		if _, ok := expected[strings.ToLower(filepath.Base(path))]; ok {
			matching = append(matching, path)
		}
	}
	return matching
}

// MatchResult buckets the sidecars matched for one media file.
type MatchResult struct {
	Primary      []string
	Supplemental []string
}

// All returns every matched sidecar path, primary first.
func (m MatchResult) All() []string {
	out := make([]string, 0, len(m.Primary)+len(m.Supplemental))
	out = append(out, m.Primary...)
	out = append(out, m.Supplemental...)
	return out
}

// MatchJSONForMedia looks up every exact candidate sidecar name for a media
// file and buckets the hits into primary and supplemental records.
func MatchJSONForMedia(mediaBasename string, index PrimaryIndex) MatchResult {
	var result MatchResult
	for _, candidate := range GenerateJSONCandidates(mediaBasename) {
		path, ok := index[strings.ToLower(candidate)]
		if !ok {
			continue
		}
		if IsSupplementalName(candidate) {
			result.Supplemental = append(result.Supplemental, path)
		} else {
			result.Primary = append(result.Primary, path)
		}
	}
	return result
}

// MediaIndex maps lowercase media filenames to every path seen with that
// name. Built once at startup so title-driven lookups avoid repeated walks.
type MediaIndex map[string][]string

// BuildMediaIndex walks the given roots and indexes every non-JSON file.
func BuildMediaIndex(roots []string) (MediaIndex, error) {
	index := make(MediaIndex)
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if strings.HasSuffix(strings.ToLower(name), ".json") {
				return nil
			}
			key := strings.ToLower(name)
			index[key] = append(index[key], path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to index media under %q: %w", root, err)
		}
	}
	for key := range index {
		sort.Strings(index[key])
	}
	return index, nil
}

// FindMediaFromIndex returns the first indexed media path matching any of the
// candidate filenames that has not already been processed.
func FindMediaFromIndex(candidates []string, processed map[string]struct{}, index MediaIndex) (string, bool) {
	for _, candidate := range candidates {
		for _, path := range index[strings.ToLower(candidate)] {
			if _, done := processed[path]; !done {
				return path, true
			}
		}
	}
	return "", false
}
