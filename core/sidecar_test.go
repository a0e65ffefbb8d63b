package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func writeSidecar(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write sidecar: %v", err)
	}
	return path
}

func TestValidGPS(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"null island", 0, 0, false},
		{"near null island", 0.00001, 0.00001, false},
		{"equator with real longitude", 0, 100, true},
		{"prime meridian with real latitude", 51.5, 0, true},
		{"sydney", -33.9, 151.2, true},
		{"just outside the dead zone", 0.001, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidGPS(tt.lat, tt.lon); got != tt.want {
				t.Errorf("ValidGPS(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestReadSidecarTimestamp(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		wantUnix int64
		wantOK   bool
	}{
		{
			name:     "photo taken time as string",
			content:  `{"title": "a.jpg", "photoTakenTime": {"timestamp": "1629475200"}}`,
			wantUnix: 1629475200,
			wantOK:   true,
		},
		{
			name:     "photo taken time as number",
			content:  `{"title": "a.jpg", "photoTakenTime": {"timestamp": 1629475200}}`,
			wantUnix: 1629475200,
			wantOK:   true,
		},
		{
			name:     "falls back to creation time",
			content:  `{"title": "a.jpg", "creationTime": {"timestamp": "1600000000"}}`,
			wantUnix: 1600000000,
			wantOK:   true,
		},
		{
			name:     "photo taken time wins over creation time",
			content:  `{"photoTakenTime": {"timestamp": "100"}, "creationTime": {"timestamp": "200"}}`,
			wantUnix: 100,
			wantOK:   true,
		},
		{
			name:    "no timestamps",
			content: `{"title": "a.jpg"}`,
			wantOK:  false,
		},
		{
			name:    "empty timestamp string",
			content: `{"photoTakenTime": {"timestamp": ""}}`,
			wantOK:  false,
		},
		{
			name:    "garbage timestamp",
			content: `{"photoTakenTime": {"timestamp": "not-a-number"}}`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSidecar(t, dir, "sidecar.json", tt.content)
			rec, err := ReadSidecar(path)
			if err != nil {
				t.Fatalf("ReadSidecar failed: %v", err)
			}
			got, ok := rec.Timestamp()
			if ok != tt.wantOK {
				t.Fatalf("Timestamp() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			want := time.Unix(tt.wantUnix, 0).UTC()
			if !got.Equal(want) {
				t.Errorf("Timestamp() = %v, want %v", got, want)
			}
		})
	}
}

func TestReadSidecarGPS(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		content    string
		wantLat    float64
		wantLon    float64
		wantSource GPSSource
		wantOK     bool
	}{
		{
			name:       "geoDataExif preferred",
			content:    `{"geoDataExif": {"latitude": 51.5, "longitude": -0.1}, "geoData": {"latitude": 48.8, "longitude": 2.3}}`,
			wantLat:    51.5,
			wantLon:    -0.1,
			wantSource: GPSSourceGeoExif,
			wantOK:     true,
		},
		{
			name:       "null island exif falls through to geoData",
			content:    `{"geoDataExif": {"latitude": 0, "longitude": 0}, "geoData": {"latitude": 48.8, "longitude": 2.3}}`,
			wantLat:    48.8,
			wantLon:    2.3,
			wantSource: GPSSourceGeoData,
			wantOK:     true,
		},
		{
			name:       "string coordinates accepted",
			content:    `{"geoData": {"latitude": "-33.9", "longitude": "151.2"}}`,
			wantLat:    -33.9,
			wantLon:    151.2,
			wantSource: GPSSourceGeoData,
			wantOK:     true,
		},
		{
			name:       "unconvertible block skipped",
			content:    `{"geoDataExif": {"latitude": "junk", "longitude": 10}, "geoData": {"latitude": 1.5, "longitude": 2.5}}`,
			wantLat:    1.5,
			wantLon:    2.5,
			wantSource: GPSSourceGeoData,
			wantOK:     true,
		},
		{
			name:       "missing axis defaults to zero",
			content:    `{"geoData": {"latitude": 51.5}}`,
			wantLat:    51.5,
			wantLon:    0,
			wantSource: GPSSourceGeoData,
			wantOK:     true,
		},
		{
			name:    "both blocks null island",
			content: `{"geoDataExif": {"latitude": 0, "longitude": 0}, "geoData": {"latitude": 0.0, "longitude": 0.0}}`,
			wantOK:  false,
		},
		{
			name:    "no geo blocks",
			content: `{"title": "a.jpg"}`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSidecar(t, dir, "sidecar.json", tt.content)
			rec, err := ReadSidecar(path)
			if err != nil {
				t.Fatalf("ReadSidecar failed: %v", err)
			}
			coord, source, ok := rec.GPS()
			if ok != tt.wantOK {
				t.Fatalf("GPS() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if coord.Latitude != tt.wantLat || coord.Longitude != tt.wantLon {
				t.Errorf("GPS() = (%v, %v), want (%v, %v)", coord.Latitude, coord.Longitude, tt.wantLat, tt.wantLon)
			}
			if source != tt.wantSource {
				t.Errorf("GPS() source = %q, want %q", source, tt.wantSource)
			}
		})
	}
}

func TestTimestampFromSidecarFile(t *testing.T) {
	dir := t.TempDir()
	logger := hclog.NewNullLogger()

	t.Run("out of range still returned", func(t *testing.T) {
		path := writeSidecar(t, dir, "future.json",
			`{"photoTakenTime": {"timestamp": "4102444800"}}`)
		got, ok := TimestampFromSidecarFile(logger, path)
		if !ok {
			t.Fatal("expected a timestamp")
		}
		if got.Unix() != 4102444800 {
			t.Errorf("got %d, want 4102444800", got.Unix())
		}
	})

	t.Run("malformed file reads as no data", func(t *testing.T) {
		path := writeSidecar(t, dir, "broken.json", `{not json`)
		if _, ok := TimestampFromSidecarFile(logger, path); ok {
			t.Error("expected no timestamp from malformed file")
		}
	})

	t.Run("missing file reads as no data", func(t *testing.T) {
		if _, ok := TimestampFromSidecarFile(logger, filepath.Join(dir, "nope.json")); ok {
			t.Error("expected no timestamp from missing file")
		}
	})
}

func TestTitleFromSidecarFile(t *testing.T) {
	dir := t.TempDir()

	path := writeSidecar(t, dir, "titled.json", `{"title": "IMG_0042.jpg"}`)
	title, ok := TitleFromSidecarFile(path)
	if !ok || title != "IMG_0042.jpg" {
		t.Errorf("got (%q, %v), want (IMG_0042.jpg, true)", title, ok)
	}

	path = writeSidecar(t, dir, "untitled.json", `{}`)
	if _, ok := TitleFromSidecarFile(path); ok {
		t.Error("expected no title")
	}
}
