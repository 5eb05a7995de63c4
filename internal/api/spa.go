package api

import (
	"net/http"
	"os"
	"path"
)

// spaFileSystem serves the embedded page, falling back to index.html for
// unknown routes. Missing assets (paths with an extension) stay 404 so a
// broken icon URL is visible instead of returning HTML.
type spaFileSystem struct {
	root http.FileSystem
}

// Open opens the named file. If the file does not exist, it falls back to index.html.
func (s *spaFileSystem) Open(name string) (http.File, error) {
	f, err := s.root.Open(name)
	if os.IsNotExist(err) && path.Ext(name) == "" {
		return s.root.Open("index.html")
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
