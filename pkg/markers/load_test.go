package markers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [3.93, 6.3345]},
     "properties": {"name": "Home", "rank": 3, "open": true, "note": null}},
    {"type": "Feature", "geometry": {"type": "MultiPoint", "coordinates": [[3.0, 5.0], [3.1, 5.1]]},
     "properties": {"name": "Pair"}},
    {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
     "properties": {}},
    {"type": "Feature", "geometry": null, "properties": {"name": "nowhere"}}
  ]
}`

func TestParseGeoJSON(t *testing.T) {
	ms, err := ParseGeoJSON([]byte(sampleGeoJSON))
	if err != nil {
		t.Fatalf("ParseGeoJSON() error = %v", err)
	}
	if len(ms) != 4 {
		t.Fatalf("expected 4 markers, got %d", len(ms))
	}

	home := ms[0]
	if home.Latitude != 6.3345 || home.Longitude != 3.93 {
		t.Errorf("coordinates swapped: %v,%v", home.Latitude, home.Longitude)
	}
	if home.Info["name"] != "Home" || home.Info["rank"] != "3" || home.Info["open"] != "true" {
		t.Errorf("unexpected info %v", home.Info)
	}
	if _, ok := home.Info["note"]; ok {
		t.Error("null property must be dropped")
	}

	if ms[1].Info["name"] != "Pair" || ms[2].Info["name"] != "Pair" {
		t.Error("multipoint members must share the feature properties")
	}
	ms[1].Info["name"] = "changed"
	if ms[2].Info["name"] != "Pair" {
		t.Error("multipoint members must not share one info map")
	}

	if ms[3].Latitude != 1 || ms[3].Longitude != 1 {
		t.Errorf("polygon centroid = %v,%v; want 1,1", ms[3].Latitude, ms[3].Longitude)
	}
	if ms[3].Info != nil {
		t.Errorf("expected nil info, got %v", ms[3].Info)
	}
}

func TestParseGeoJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"Not JSON", "nope"},
		{"Out of range", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[500,10]},"properties":{}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseGeoJSON([]byte(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	in := "\ufeffName,Lat,Lng,Kind\n" +
		"Lighthouse,6.34,3.94,landmark\n" +
		"Blank,5,3,\n"

	ms, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(ms))
	}
	if ms[0].Info["Name"] != "Lighthouse" {
		t.Errorf("BOM not stripped from first header: %v", ms[0].Info)
	}
	if ms[0].Latitude != 6.34 || ms[0].Longitude != 3.94 {
		t.Errorf("unexpected coordinates %v,%v", ms[0].Latitude, ms[0].Longitude)
	}
	if _, ok := ms[1].Info["Kind"]; ok {
		t.Error("empty cells must be skipped")
	}
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"No header", ""},
		{"No coordinates", "name,kind\na,b\n"},
		{"Bad number", "lat,lon\nx,3\n"},
		{"Out of range", "lat,lon\n95,3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pois.shp")

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatalf("shp.Create: %v", err)
	}
	if err := w.SetFields([]shp.Field{shp.StringField("NAME", 25)}); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	points := []shp.Point{{X: 3.93, Y: 6.3345}, {X: 3, Y: 5}}
	names := []string{"Home", ""}
	for i := range points {
		n := w.Write(&points[i])
		if err := w.WriteAttribute(int(n), 0, names[i]); err != nil {
			t.Fatalf("WriteAttribute: %v", err)
		}
	}
	w.Close()

	ms, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(ms))
	}
	if ms[0].Latitude != 6.3345 || ms[0].Longitude != 3.93 {
		t.Errorf("unexpected coordinates %v,%v", ms[0].Latitude, ms[0].Longitude)
	}
	if ms[0].Info["NAME"] != "Home" {
		t.Errorf("unexpected info %v", ms[0].Info)
	}
	if ms[1].Info != nil {
		t.Errorf("empty attribute must not create info, got %v", ms[1].Info)
	}
}

func TestLoad_Dispatch(t *testing.T) {
	dir := t.TempDir()

	gj := filepath.Join(dir, "pois.GeoJSON")
	if err := os.WriteFile(gj, []byte(sampleGeoJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if ms, err := Load(gj); err != nil || len(ms) != 4 {
		t.Errorf("Load(geojson) = %d markers, %v", len(ms), err)
	}

	csvPath := filepath.Join(dir, "pois.csv")
	if err := os.WriteFile(csvPath, []byte("lat,lon\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ms, err := Load(csvPath); err != nil || len(ms) != 1 {
		t.Errorf("Load(csv) = %d markers, %v", len(ms), err)
	}

	if _, err := Load(filepath.Join(dir, "pois.kml")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
