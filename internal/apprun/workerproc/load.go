package workerproc

import (
	"fmt"
	"path/filepath"
	"plugin"
	"strings"
)

// ResolveEntrypoint joins appDir and entrypoint and rejects any result that
// escapes appDir, guarding against a manifest entrypoint like
// "../../etc/passwd" reaching outside the app's own directory.
func ResolveEntrypoint(appDir, entrypoint string) (string, error) {
	root, err := filepath.Abs(appDir)
	if err != nil {
		return "", fmt.Errorf("workerproc: resolve app dir: %w", err)
	}
	joined := filepath.Join(root, entrypoint)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("workerproc: resolve entrypoint: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workerproc: entrypoint %q escapes app directory", entrypoint)
	}
	return abs, nil
}

// Load detects an app's shape from its resolved entrypoint and produces an
// App ready for the request loop to dispatch against.
//
// A ".html" entrypoint is served statically without ever touching the
// plugin loader. Anything else is expected to be a Go plugin (".so") built
// from the app's source exporting one of:
//   - var App *workerproc.App            (full control, incl. lifecycle hooks)
//   - var Handler workerproc.HandlerFunc  (ShapeHandler)
//   - var Routes workerproc.RouteTable    (ShapeRouteTable)
func Load(appDir, entrypointAbs string) (*App, error) {
	if strings.EqualFold(filepath.Ext(entrypointAbs), ".html") {
		return &App{
			Shape:       ShapeStatic,
			StaticDir:   filepath.Dir(entrypointAbs),
			StaticEntry: filepath.Base(entrypointAbs),
		}, nil
	}

	p, err := plugin.Open(entrypointAbs)
	if err != nil {
		return nil, fmt.Errorf("workerproc: open plugin %q: %w", entrypointAbs, err)
	}

	if sym, err := p.Lookup("App"); err == nil {
		app, ok := sym.(*App)
		if !ok {
			if pp, ok2 := sym.(**App); ok2 && *pp != nil {
				app = *pp
			} else {
				return nil, fmt.Errorf("workerproc: %q exports App with wrong type %T", entrypointAbs, sym)
			}
		}
		return app, nil
	}

	if sym, err := p.Lookup("Handler"); err == nil {
		h, ok := sym.(HandlerFunc)
		if !ok {
			if hp, ok2 := sym.(*HandlerFunc); ok2 {
				h = *hp
			} else {
				return nil, fmt.Errorf("workerproc: %q exports Handler with wrong type %T", entrypointAbs, sym)
			}
		}
		return &App{Shape: ShapeHandler, Handler: h}, nil
	}

	if sym, err := p.Lookup("Routes"); err == nil {
		routes, ok := sym.(RouteTable)
		if !ok {
			if rp, ok2 := sym.(*RouteTable); ok2 {
				routes = *rp
			} else {
				return nil, fmt.Errorf("workerproc: %q exports Routes with wrong type %T", entrypointAbs, sym)
			}
		}
		return &App{Shape: ShapeRouteTable, Routes: routes}, nil
	}

	return nil, fmt.Errorf("workerproc: %q exports none of App, Handler, Routes", entrypointAbs)
}
