package workerproc

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// serveStatic resolves req's URL path against app's StaticDir, falling back
// to StaticEntry for "/" and for any path that doesn't resolve to a real
// file under StaticDir (single-page-app routing).
func serveStatic(app *App, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return &Response{Status: 400, Body: []byte("bad request")}, nil
	}

	rel := strings.TrimPrefix(u.Path, "/")
	candidate := app.StaticEntry
	if rel != "" {
		joined, err := ResolveEntrypoint(app.StaticDir, rel)
		if err == nil {
			if info, statErr := os.Stat(joined); statErr == nil && !info.IsDir() {
				candidate = rel
			}
		}
	}

	full, err := ResolveEntrypoint(app.StaticDir, candidate)
	if err != nil {
		return &Response{Status: 403, Body: []byte("forbidden")}, nil
	}

	body, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return &Response{Status: 404, Body: []byte("not found")}, nil
		}
		return nil, fmt.Errorf("workerproc: read static file %q: %w", full, err)
	}

	ctype := mime.TypeByExtension(filepath.Ext(full))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	return &Response{
		Status:  200,
		Headers: map[string]string{"content-type": ctype},
		Body:    body,
	}, nil
}
