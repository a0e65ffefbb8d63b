package core

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Takeout truncates the name portion of a filename (excluding the extension)
// to 47 characters. The full original name survives in the JSON title field.
const takeoutNameLimit = 47

// When the JSON filename gives us no suffix hint, titles are probed against
// uniqueness suffixes (1) through (30).
const maxGuessedSuffix = 30

var (
	// A duplicate suffix is (N) with 1-3 digits, either immediately before the
	// final extension or trailing after it. Four digits, e.g. a year like
	// (2020), never qualifies.
	suffixBeforeExtRe = regexp.MustCompile(`^(.+)\((\d{1,3})\)(\.[^.]+)$`)
	suffixAfterExtRe  = regexp.MustCompile(`^(.+\.[^.]+)\((\d{1,3})\)$`)

	// Titles sometimes carry their uniqueness suffix after the extension even
	// though the exported file has it before.
	titleSuffixAfterExtRe = regexp.MustCompile(`^(.+?)(\.[^.]+)(\(\d+\))$`)

	jsonSuffixRe = regexp.MustCompile(`(?i)(\(\d+\))\.json$`)
	anySuffixRe  = regexp.MustCompile(`(\(\d+\))(\.[^.]+)$`)
)

// SuffixInfo describes a recognized duplicate suffix and both of its
// placements relative to the extension.
type SuffixInfo struct {
	// Base is the filename with the suffix removed.
	Base string
	// Suffix is the marker itself, e.g. "(2)".
	Suffix string
	// AfterExt is the variant with the suffix trailing the extension,
	// e.g. "IMG_0006.jpg(2)".
	AfterExt string
	// BeforeExt is the variant with the suffix before the extension,
	// e.g. "IMG_0006(2).jpg".
	BeforeExt string
}

// ExtractStrictSuffix returns the duplicate suffix of a filename, or false
// when the name carries none.
func ExtractStrictSuffix(name string) (string, bool) {
	if m := suffixBeforeExtRe.FindStringSubmatch(name); m != nil {
		return fmt.Sprintf("(%s)", m[2]), true
	}
	if m := suffixAfterExtRe.FindStringSubmatch(name); m != nil {
		return fmt.Sprintf("(%s)", m[2]), true
	}
	return "", false
}

// SplitSuffix separates a filename from its duplicate suffix. The second
// return is false when no suffix was recognized, in which case Base is the
// input unchanged.
func SplitSuffix(name string) (SuffixInfo, bool) {
	if m := suffixBeforeExtRe.FindStringSubmatch(name); m != nil {
		suffix := fmt.Sprintf("(%s)", m[2])
		base := m[1] + m[3]
		return SuffixInfo{
			Base:      base,
			Suffix:    suffix,
			AfterExt:  base + suffix,
			BeforeExt: name,
		}, true
	}
	if m := suffixAfterExtRe.FindStringSubmatch(name); m != nil {
		suffix := fmt.Sprintf("(%s)", m[2])
		base := m[1]
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		return SuffixInfo{
			Base:      base,
			Suffix:    suffix,
			AfterExt:  name,
			BeforeExt: stem + suffix + ext,
		}, true
	}
	return SuffixInfo{Base: name}, false
}

// ExtractJSONSuffix pulls the uniqueness suffix out of a sidecar filename
// like "IMG_1234.jpg(15).json".
func ExtractJSONSuffix(jsonName string) (string, bool) {
	if m := jsonSuffixRe.FindStringSubmatch(jsonName); m != nil {
		return m[1], true
	}
	return "", false
}

// extractLooseSuffix finds a (N) marker before the extension with no digit
// limit. Used only for title normalization, where the export wrote the marker
// itself.
func extractLooseSuffix(name string) (string, bool) {
	if m := anySuffixRe.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	return "", false
}

// NormalizeTitleVariants returns the title plus, when the title embeds its
// uniqueness suffix after the extension, the canonical placement before the
// extension. Downstream matching is then position-agnostic.
func NormalizeTitleVariants(title string) []string {
	variants := []string{title}
	if m := titleSuffixAfterExtRe.FindStringSubmatch(title); m != nil {
		variants = append(variants, m[1]+m[3]+m[2])
	}
	return variants
}

// withExtensionVariants adds the jpg/jpeg cross-variant of a filename.
func withExtensionVariants(name string) []string {
	variants := []string{name}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	switch strings.ToLower(ext) {
	case ".jpg":
		variants = append(variants, stem+".jpeg")
	case ".jpeg":
		variants = append(variants, stem+".jpg")
	}
	return variants
}

// GenerateJSONCandidates returns the sorted, exact set of sidecar filenames
// that could describe the given media file. The set is finite and never
// guesses: suffixed sidecar names are generated only with the suffix the
// media file itself carries.
func GenerateJSONCandidates(mediaName string) []string {
	info, hasSuffix := SplitSuffix(mediaName)

	variants := map[string]struct{}{mediaName: {}}
	if hasSuffix {
		variants[info.AfterExt] = struct{}{}
		variants[info.BeforeExt] = struct{}{}
	}

	variantsWithExt := map[string]struct{}{}
	for v := range variants {
		for _, e := range withExtensionVariants(v) {
			variantsWithExt[e] = struct{}{}
		}
	}

	candidates := map[string]struct{}{}
	for v := range variantsWithExt {
		candidates[v+".json"] = struct{}{}
	}

	if hasSuffix {
		for _, base := range withExtensionVariants(info.Base) {
			candidates[base+".supplemental-metadata"+info.Suffix+".json"] = struct{}{}
			candidates[base+".sup"+info.Suffix+".json"] = struct{}{}
		}
		for v := range variantsWithExt {
			candidates[v+".supplemental-metadata.json"] = struct{}{}
			candidates[v+".supplemental-metadata"+info.Suffix+".json"] = struct{}{}
			candidates[v+".sup.json"] = struct{}{}
			candidates[v+".sup"+info.Suffix+".json"] = struct{}{}
		}
	} else {
		for v := range variantsWithExt {
			candidates[v+".supplemental-metadata.json"] = struct{}{}
			candidates[v+".sup.json"] = struct{}{}
		}
	}

	out := make([]string, 0, len(candidates))
	for c := range candidates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// GenerateTakeoutCandidates returns the filenames the export could have given
// a media file whose declared title is known, applying the export's mangling
// rules: 47-char truncation of the name portion, "-edited" variants, '&' and
// '?' substitution, and jpg/jpeg cross-variants. When jsonSuffix is non-empty
// only that uniqueness suffix is used; otherwise (1)..(30) are probed.
func GenerateTakeoutCandidates(title string, jsonSuffix string) []string {
	if title == "" {
		return nil
	}

	bases := map[string]struct{}{}
	for _, v := range NormalizeTitleVariants(title) {
		bases[v] = struct{}{}
		replaced := strings.NewReplacer("&", "_", "?", "_").Replace(v)
		bases[replaced] = struct{}{}
	}

	candidates := map[string]struct{}{}
	for base := range bases {
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		if len(name) > takeoutNameLimit {
			name = name[:takeoutNameLimit]
		}
		edited := name + "-edited"
		if len(edited) > takeoutNameLimit {
			edited = edited[:takeoutNameLimit]
		}

		candidates[name+ext] = struct{}{}
		candidates[edited+ext] = struct{}{}

		if jsonSuffix != "" {
			candidates[name+jsonSuffix+ext] = struct{}{}
			candidates[edited+jsonSuffix+ext] = struct{}{}
			candidates[name+"-edited"+jsonSuffix+ext] = struct{}{}
		} else {
			for i := 1; i <= maxGuessedSuffix; i++ {
				suffix := fmt.Sprintf("(%d)", i)
				candidates[name+suffix+ext] = struct{}{}
				candidates[edited+suffix+ext] = struct{}{}
				candidates[name+"-edited"+suffix+ext] = struct{}{}
			}
		}
	}

	crossed := map[string]struct{}{}
	for c := range candidates {
		for _, v := range withExtensionVariants(c) {
			crossed[v] = struct{}{}
		}
	}

	out := make([]string, 0, len(crossed))
	for c := range crossed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
