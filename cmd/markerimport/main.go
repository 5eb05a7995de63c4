package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"geofollow/pkg/db"
	"geofollow/pkg/db/maintenance"
	"geofollow/pkg/markers"
	"geofollow/pkg/model"
	"geofollow/pkg/store"
)

func main() {
	inputPath := flag.String("input", "", "Path to a .csv, .geojson/.json or .shp marker file")
	dbPath := flag.String("db", "./data/geofollow.db", "Database to import into (empty to skip)")
	outputPath := flag.String("geojson", "", "Optional path to write the markers as GeoJSON")
	resolution := flag.Int("resolution", 8, "H3 resolution used to index markers")
	flag.Parse()

	if *inputPath == "" || (*dbPath == "" && *outputPath == "") {
		flag.Usage()
		log.Fatal("Input path and at least one of -db or -geojson are required")
	}

	if err := run(context.Background(), *inputPath, *dbPath, *outputPath, *resolution); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, inputPath, dbPath, outputPath string, resolution int) error {
	ms, err := markers.Load(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load markers: %w", err)
	}

	if outputPath != "" {
		if err := writeGeoJSON(outputPath, ms); err != nil {
			return err
		}
		fmt.Printf("Wrote %d markers to %s\n", len(ms), outputPath)
	}

	if dbPath == "" {
		return nil
	}

	conn, err := db.Init(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	st := store.NewSQLiteStore(conn, store.WithResolution(resolution))
	// Forced so the server's startup import sees the recorded mtime and skips the file.
	if _, err := maintenance.ImportMarkers(ctx, st, inputPath, true); err != nil {
		return fmt.Errorf("failed to import markers: %w", err)
	}

	n, err := st.CountMarkers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully imported %d markers into %s\n", n, dbPath)
	return nil
}

func writeGeoJSON(path string, ms []model.Marker) error {
	fc := geojson.NewFeatureCollection()
	for _, m := range ms {
		f := geojson.NewFeature(orb.Point{m.Longitude, m.Latitude})
		for k, v := range m.Info {
			f.Properties[k] = v
		}
		fc.Append(f)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
