package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"geofollow/pkg/db"
	"geofollow/pkg/store"
)

func TestMaintenance(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(db.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	csvPath := filepath.Join(tempDir, "pois.csv")
	csvContent := "\ufeffName,Latitude,Longitude\n" +
		"Lighthouse,6.34,3.94\n" +
		"Market,6.33,3.92\n"
	if err := os.WriteFile(csvPath, []byte(csvContent), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Run(ctx, s, csvPath); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	n, err := s.CountMarkers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported markers, got %d", n)
	}
	if _, found := s.GetState(ctx, markersFileStateKey); !found {
		t.Error("State not updated after import")
	}

	var source string
	if err := d.QueryRow("SELECT source FROM markers LIMIT 1").Scan(&source); err != nil {
		t.Fatal(err)
	}
	if source != "pois.csv" {
		t.Errorf("expected source pois.csv, got %q", source)
	}

	// Unchanged file is skipped; API edits survive a restart.
	if err := s.ReplaceMarkers(ctx, nil); err != nil {
		t.Fatal(err)
	}
	imported, err := ImportMarkers(ctx, s, csvPath, false)
	if err != nil || imported {
		t.Errorf("expected skip, got imported=%v err=%v", imported, err)
	}

	imported, err = ImportMarkers(ctx, s, csvPath, true)
	if err != nil || !imported {
		t.Errorf("expected forced import, got imported=%v err=%v", imported, err)
	}
	if n, _ := s.CountMarkers(ctx); n != 2 {
		t.Errorf("expected 2 markers after forced import, got %d", n)
	}
}

func TestImportMarkers_NoFile(t *testing.T) {
	d, err := db.Init(db.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	s := store.NewSQLiteStore(d)

	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.geojson")} {
		imported, err := ImportMarkers(context.Background(), s, path, false)
		if err != nil || imported {
			t.Errorf("ImportMarkers(%q) = %v, %v; want false, nil", path, imported, err)
		}
	}
}
