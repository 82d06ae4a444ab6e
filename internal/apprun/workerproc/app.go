// Package workerproc implements the child side of the worker protocol: the
// code that runs inside cmd/apprun-worker after the parent Worker Instance
// spawns it, talks IPC frames over stdin/stdout, and dispatches each request
// into the loaded application.
package workerproc

import "context"

// Request is the minimal HTTP request shape handed to an app's handler.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the minimal HTTP response shape an app's handler returns.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// HandlerFunc is the shape an app exposes when it wants to handle every
// request itself (AppShape == ShapeHandler).
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// RouteEntry binds HTTP methods to handlers for one path entry in a route
// table app (AppShape == ShapeRouteTable). A "*" method key matches any verb
// not otherwise present.
type RouteEntry map[string]HandlerFunc

// RouteTable is the shape an app exposes when it wants path-based dispatch
// done for it.
type RouteTable map[string]RouteEntry

// AppShape enumerates the three ways a loaded app can present itself, as
// detected by shape detection against the loaded plugin's exported symbols.
type AppShape int

const (
	// ShapeStatic serves files from disk; no plugin is loaded at all.
	ShapeStatic AppShape = iota
	// ShapeHandler is a plugin exporting a single HandlerFunc-shaped symbol.
	ShapeHandler
	// ShapeRouteTable is a plugin exporting a RouteTable-shaped symbol.
	ShapeRouteTable
)

// App is the normalized, loaded application the request loop dispatches
// against, regardless of which shape it was detected as.
type App struct {
	Shape AppShape

	// Handler is set when Shape == ShapeHandler.
	Handler HandlerFunc
	// Routes is set when Shape == ShapeRouteTable.
	Routes RouteTable
	// StaticDir is set when Shape == ShapeStatic: the directory entrypoint's
	// HTML file lives in, served relative to the request URL path.
	StaticDir string
	// StaticEntry is the entrypoint file name itself, served for "/" and for
	// any path that doesn't resolve to a file under StaticDir.
	StaticEntry string

	// OnIdle runs when the parent notifies the child it has crossed the
	// idle threshold. Optional.
	OnIdle func(ctx context.Context)
	// OnTerminate runs before the process exits in response to a TERMINATE
	// frame. Optional.
	OnTerminate func(ctx context.Context)
}
