// Package markers reads point-of-interest catalogues from disk.
package markers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"geofollow/pkg/geo"
	"geofollow/pkg/model"
)

// ErrUnsupportedFormat is returned by Load for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported marker file format")

// Load reads a marker file, picking the reader by extension
// (.geojson/.json, .shp, .csv).
func Load(path string) ([]model.Marker, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return LoadGeoJSON(path)
	case ".shp":
		return LoadShapefile(path)
	case ".csv":
		return LoadCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadGeoJSON reads a FeatureCollection. Points become markers; other
// geometries are reduced to their centroid. Scalar properties become Info.
func LoadGeoJSON(path string) ([]model.Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON is LoadGeoJSON on an in-memory document.
func ParseGeoJSON(data []byte) ([]model.Marker, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	out := []model.Marker{}
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		info := propertiesToInfo(f.Properties)
		for _, p := range anchorPoints(f.Geometry) {
			m := model.Marker{Latitude: p.Lat(), Longitude: p.Lon(), Info: cloneInfo(info)}
			if err := geo.FromMarker(&m).Validate(); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// anchorPoints returns where a geometry's marker(s) go.
func anchorPoints(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return v
	case orb.Polygon, orb.MultiPolygon:
		c, area := planar.CentroidArea(v)
		if area == 0 {
			return []orb.Point{v.Bound().Center()}
		}
		return []orb.Point{c}
	default:
		return []orb.Point{g.Bound().Center()}
	}
}

func propertiesToInfo(props geojson.Properties) map[string]string {
	if len(props) == 0 {
		return nil
	}
	info := make(map[string]string, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			info[k] = t
		case float64:
			info[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			info[k] = strconv.FormatBool(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			info[k] = string(b)
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

func cloneInfo(info map[string]string) map[string]string {
	if info == nil {
		return nil
	}
	out := make(map[string]string, len(info))
	for k, v := range info {
		out[k] = v
	}
	return out
}

// LoadShapefile reads an ESRI shapefile and its .dbf attributes.
func LoadShapefile(path string) ([]model.Marker, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer shape.Close()

	fields := shape.Fields()
	fieldNames := make([]string, len(fields))
	for i, f := range fields {
		fieldNames[i] = f.String()
	}

	out := []model.Marker{}
	for shape.Next() {
		n, p := shape.Shape()

		var points []orb.Point
		switch s := p.(type) {
		case *shp.Null:
			continue
		case *shp.Point:
			points = []orb.Point{{s.X, s.Y}}
		case *shp.PointZ:
			points = []orb.Point{{s.X, s.Y}}
		case *shp.PointM:
			points = []orb.Point{{s.X, s.Y}}
		case *shp.MultiPoint:
			for _, pt := range s.Points {
				points = append(points, orb.Point{pt.X, pt.Y})
			}
		case *shp.Polygon:
			points = anchorPoints(convertPolygon(s))
		default:
			b := p.BBox()
			points = []orb.Point{{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}}
		}

		var info map[string]string
		for i, name := range fieldNames {
			val := strings.TrimSpace(strings.TrimRight(shape.ReadAttribute(n, i), "\x00"))
			if val == "" {
				continue
			}
			if info == nil {
				info = make(map[string]string, len(fieldNames))
			}
			info[name] = val
		}

		for _, pt := range points {
			m := model.Marker{Latitude: pt.Lat(), Longitude: pt.Lon(), Info: cloneInfo(info)}
			if err := geo.FromMarker(&m).Validate(); err != nil {
				return nil, fmt.Errorf("shape %d: %w (is the file projected?)", n, err)
			}
			out = append(out, m)
		}
	}

	if err := shape.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shapes: %w", err)
	}
	return out, nil
}

func convertPolygon(s *shp.Polygon) orb.Polygon {
	var poly orb.Polygon

	for i := 0; i < int(s.NumParts); i++ {
		start := s.Parts[i]
		end := s.NumPoints
		if i < int(s.NumParts)-1 {
			end = s.Parts[i+1]
		}

		var ring orb.Ring
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{s.Points[j].X, s.Points[j].Y})
		}
		poly = append(poly, ring)
	}
	return poly
}

var (
	latColumns = []string{"latitude", "lat", "y"}
	lonColumns = []string{"longitude", "lon", "lng", "x"}
)

// LoadCSV reads a table with a header row. Latitude/longitude columns are
// matched case-insensitively; every other non-empty column becomes Info.
func LoadCSV(path string) ([]model.Marker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV is LoadCSV on a reader.
func ParseCSV(r io.Reader) ([]model.Marker, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	// UTF-8 BOM
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	latIdx, lonIdx := -1, -1
	for i, h := range headers {
		lower := strings.ToLower(strings.TrimSpace(h))
		for _, c := range latColumns {
			if lower == c && latIdx < 0 {
				latIdx = i
			}
		}
		for _, c := range lonColumns {
			if lower == c && lonIdx < 0 {
				lonIdx = i
			}
		}
	}
	if latIdx < 0 || lonIdx < 0 {
		return nil, fmt.Errorf("csv needs latitude and longitude columns, got %v", headers)
	}

	out := []model.Marker{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv read error: %w", err)
		}
		if latIdx >= len(record) || lonIdx >= len(record) {
			return nil, fmt.Errorf("line %d: missing coordinate columns", line)
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(record[latIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[lonIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid longitude: %w", line, err)
		}

		m := model.Marker{Latitude: lat, Longitude: lon}
		if err := geo.FromMarker(&m).Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i, v := range record {
			if i == latIdx || i == lonIdx || i >= len(headers) {
				continue
			}
			if v = strings.TrimSpace(v); v == "" {
				continue
			}
			if m.Info == nil {
				m.Info = make(map[string]string)
			}
			m.Info[strings.TrimSpace(headers[i])] = v
		}
		out = append(out, m)
	}
	return out, nil
}
