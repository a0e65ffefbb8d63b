package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Timestamps outside [1970-01-01, 2030-01-01) are suspicious for photos; they
// are still used but flagged.
const (
	minSaneTimestamp = 0
	maxSaneTimestamp = 1893456000
)

// flexFloat decodes a JSON value that may be a number or a numeric string.
// Exports are inconsistent about which they emit.
type flexFloat struct {
	Value float64
	Set   bool
	Bad   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			f.Bad = true
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Keep decoding the rest of the document; only this block suffers.
		f.Bad = true
		return nil
	}
	f.Value = v
	f.Set = true
	return nil
}

// flexTimestamp decodes Unix seconds that may arrive as a string or a number.
type flexTimestamp struct {
	Value int64
	Set   bool
}

func (t *flexTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t.Value = v
	t.Set = true
	return nil
}

// GeoBlock is one of the geoDataExif/geoData blocks in a sidecar. A missing
// axis defaults to 0; an axis that fails numeric conversion poisons the block.
type GeoBlock struct {
	Latitude  flexFloat `json:"latitude"`
	Longitude flexFloat `json:"longitude"`
	Altitude  flexFloat `json:"altitude"`
}

// usable reports whether the block can be converted at all.
func (g *GeoBlock) usable() bool {
	if g == nil {
		return false
	}
	return !g.Latitude.Bad && !g.Longitude.Bad && !g.Altitude.Bad
}

// GPSCoord is a resolved coordinate.
type GPSCoord struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// ValidGPS rejects Null Island: a coordinate is invalid only when both axes
// are within 1e-4 of zero. A point on the equator or prime meridian alone is
// a real location.
func ValidGPS(lat, lon float64) bool {
	return !(abs(lat) < 1e-4 && abs(lon) < 1e-4)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// SidecarRecord is a parsed takeout sidecar JSON file.
type SidecarRecord struct {
	Title          string `json:"title"`
	PhotoTakenTime struct {
		Timestamp flexTimestamp `json:"timestamp"`
	} `json:"photoTakenTime"`
	CreationTime struct {
		Timestamp flexTimestamp `json:"timestamp"`
	} `json:"creationTime"`
	GeoDataExif *GeoBlock `json:"geoDataExif"`
	GeoData     *GeoBlock `json:"geoData"`
}

// ReadSidecar parses one sidecar file.
func ReadSidecar(path string) (*SidecarRecord, error) {
	if path == "" {
		return nil, errors.New("sidecar path cannot be empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer f.Close()

	var rec SidecarRecord
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar JSON: %w", err)
	}
	return &rec, nil
}

// Timestamp returns the capture time declared by the sidecar, preferring
// photoTakenTime over creationTime. The second return is false when neither
// is present.
func (r *SidecarRecord) Timestamp() (time.Time, bool) {
	ts := r.PhotoTakenTime.Timestamp
	if !ts.Set {
		ts = r.CreationTime.Timestamp
	}
	if !ts.Set {
		return time.Time{}, false
	}
	return time.Unix(ts.Value, 0).UTC(), true
}

// GPS returns the first valid coordinate from the sidecar's geo blocks,
// preferring geoDataExif over geoData, along with which block supplied it.
// Null Island coordinates and unconvertible blocks are skipped.
func (r *SidecarRecord) GPS() (GPSCoord, GPSSource, bool) {
	blocks := []struct {
		geo    *GeoBlock
		source GPSSource
	}{
		{r.GeoDataExif, GPSSourceGeoExif},
		{r.GeoData, GPSSourceGeoData},
	}
	for _, b := range blocks {
		if !b.geo.usable() {
			continue
		}
		lat := b.geo.Latitude.Value
		lon := b.geo.Longitude.Value
		if !ValidGPS(lat, lon) {
			continue
		}
		return GPSCoord{
			Latitude:  lat,
			Longitude: lon,
			Altitude:  b.geo.Altitude.Value,
		}, b.source, true
	}
	return GPSCoord{}, GPSSourceNone, false
}

// TimestampFromSidecarFile reads one sidecar and returns its declared capture
// time. Malformed files and files without a timestamp both read as "no data".
// Out-of-range values are flagged but still returned.
func TimestampFromSidecarFile(logger hclog.Logger, path string) (time.Time, bool) {
	rec, err := ReadSidecar(path)
	if err != nil {
		return time.Time{}, false
	}
	t, ok := rec.Timestamp()
	if !ok {
		return time.Time{}, false
	}
	unix := t.Unix()
	if unix < minSaneTimestamp {
		logger.Warn("sidecar timestamp before 1970", "path", path, "timestamp", unix)
	} else if unix > maxSaneTimestamp {
		logger.Warn("sidecar timestamp after 2030", "path", path, "timestamp", unix)
	}
	return t, true
}

// GPSFromSidecarFile reads one sidecar and returns its first valid coordinate.
func GPSFromSidecarFile(path string) (GPSCoord, GPSSource, bool) {
	rec, err := ReadSidecar(path)
	if err != nil {
		return GPSCoord{}, GPSSourceNone, false
	}
	return rec.GPS()
}

// TitleFromSidecarFile returns the declared original filename, if any.
func TitleFromSidecarFile(path string) (string, bool) {
	rec, err := ReadSidecar(path)
	if err != nil || rec.Title == "" {
		return "", false
	}
	return rec.Title, true
}
