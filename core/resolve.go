package core

import (
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
)

// TimestampSource identifies which source supplied the authoritative capture
// time for a media file.
type TimestampSource string

const (
	TimestampSourceEmbedded     TimestampSource = "embedded"
	TimestampSourcePrimaryJSON  TimestampSource = "primaryJSON"
	TimestampSourceSupplemental TimestampSource = "supplemental"
	TimestampSourceNone         TimestampSource = "none"
)

// GPSSource identifies which source supplied the authoritative coordinate.
type GPSSource string

const (
	GPSSourceEmbedded GPSSource = "embeddedExisting"
	GPSSourceGeoExif  GPSSource = "supplementalGeoExif"
	GPSSourceGeoData  GPSSource = "supplementalGeoData"
	GPSSourceNone     GPSSource = "none"
)

// ResolvedMetadata is the single authoritative answer for one media file.
type ResolvedMetadata struct {
	Timestamp       time.Time
	TimestampSource TimestampSource
	GPS             *GPSCoord
	GPSSource       GPSSource
}

// Resolved reports whether a usable capture time was found anywhere. There is
// no filesystem-timestamp fallback; without real metadata the file stays
// unresolved.
func (r ResolvedMetadata) Resolved() bool {
	return r.TimestampSource != TimestampSourceNone
}

// NeedsTimestampWrite reports whether the capture time came from a sidecar
// and should be stamped into the committed file.
func (r ResolvedMetadata) NeedsTimestampWrite() bool {
	return r.TimestampSource == TimestampSourcePrimaryJSON ||
		r.TimestampSource == TimestampSourceSupplemental
}

// NeedsGPSWrite reports whether a sidecar-sourced coordinate should be
// written. An embedded coordinate is never overwritten.
func (r ResolvedMetadata) NeedsGPSWrite() bool {
	return r.GPS != nil &&
		(r.GPSSource == GPSSourceGeoExif || r.GPSSource == GPSSourceGeoData)
}

// Resolver computes authoritative metadata for media files from the embedded
// reader and matched sidecars, in fixed precedence order.
type Resolver struct {
	logger hclog.Logger
	tool   MetadataReader
}

// NewResolver wires a resolver to an embedded-metadata reader.
func NewResolver(logger hclog.Logger, tool MetadataReader) *Resolver {
	return &Resolver{logger: logger, tool: tool}
}

// timestampCandidate is one entry in the ordered timestamp chain.
type timestampCandidate struct {
	source TimestampSource
	probe  func() (time.Time, bool)
}

// Resolve runs both precedence chains for one media file. The timestamp chain
// is embedded, then primary sidecar, then supplemental sidecars; the GPS
// chain is independent and consults the embedded coordinate first.
func (r *Resolver) Resolve(mediaPath string, match MatchResult) ResolvedMetadata {
	resolved := ResolvedMetadata{
		TimestampSource: TimestampSourceNone,
		GPSSource:       GPSSourceNone,
	}

	chain := []timestampCandidate{
		{TimestampSourceEmbedded, func() (time.Time, bool) {
			return r.tool.ReadCaptureTimestamp(mediaPath)
		}},
		{TimestampSourcePrimaryJSON, func() (time.Time, bool) {
			return r.timestampFromSidecars(match.Primary)
		}},
		{TimestampSourceSupplemental, func() (time.Time, bool) {
			return r.timestampFromSidecars(match.Supplemental)
		}},
	}
	for _, candidate := range chain {
		if t, ok := candidate.probe(); ok {
			resolved.Timestamp = t
			resolved.TimestampSource = candidate.source
			break
		}
	}

	resolved.GPS, resolved.GPSSource = r.resolveGPS(mediaPath, match)
	return resolved
}

// timestampFromSidecars returns the first declared capture time from the
// given sidecars, probed in sorted path order for determinism.
func (r *Resolver) timestampFromSidecars(paths []string) (time.Time, bool) {
	for _, path := range sortedCopy(paths) {
		if t, ok := TimestampFromSidecarFile(r.logger, path); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveGPS keeps a valid embedded coordinate untouched, otherwise probes
// the supplemental sidecars in sorted order. An embedded coordinate that is
// present but invalid (Null Island) does not block a sidecar fill-in.
func (r *Resolver) resolveGPS(mediaPath string, match MatchResult) (*GPSCoord, GPSSource) {
	status := r.tool.ReadGPS(mediaPath)
	if status.Present && status.Valid {
		return &GPSCoord{Latitude: status.Latitude, Longitude: status.Longitude}, GPSSourceEmbedded
	}

	for _, path := range sortedCopy(match.Supplemental) {
		if coord, source, ok := GPSFromSidecarFile(path); ok {
			return &coord, source
		}
	}
	return nil, GPSSourceNone
}

func sortedCopy(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}
