package probe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"geofollow/pkg/tiles"
)

// Pinger is satisfied by *sql.DB and *db.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Counter reports the number of catalogue markers.
type Counter interface {
	CountMarkers(ctx context.Context) (int, error)
}

// Database checks that the catalogue database answers and can be queried.
func Database(p Pinger, c Counter) Probe {
	return Probe{
		Name:     "Catalogue DB",
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := p.PingContext(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			if c == nil {
				return nil
			}
			if _, err := c.CountMarkers(ctx); err != nil {
				return fmt.Errorf("count markers: %w", err)
			}
			return nil
		},
	}
}

// TileTemplate validates the configured tile source.
func TileTemplate(src tiles.Source) Probe {
	return Probe{
		Name:     "Tile Template",
		Critical: true,
		Check: func(context.Context) error {
			return src.Validate()
		},
	}
}

// TileServer fetches the zoom-0 tile. Browsers fetch tiles directly, so a
// failure here is only reported.
func TileServer(client *http.Client, src tiles.Source) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return Probe{
		Name:     "Tile Server",
		Critical: false,
		Check: func(ctx context.Context) error {
			u := strings.NewReplacer("{s}", "a", "{z}", "0", "{x}", "0", "{y}", "0", "{r}", "").Replace(src.URLTemplate)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", "geofollow-probe")
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
			}
			return nil
		},
	}
}

// MarkersFile checks that a configured marker file is readable.
func MarkersFile(path string) Probe {
	return Probe{
		Name:     "Markers File",
		Critical: false,
		Check: func(context.Context) error {
			if path == "" {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			return f.Close()
		},
	}
}
