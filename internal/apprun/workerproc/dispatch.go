package workerproc

import (
	"context"
	"fmt"
	"net/url"
)

// dispatch routes req to app according to its shape, returning a response
// that is always non-nil on a nil error.
func dispatch(ctx context.Context, app *App, req *Request) (*Response, error) {
	switch app.Shape {
	case ShapeStatic:
		return serveStatic(app, req)
	case ShapeHandler:
		if app.Handler == nil {
			return nil, fmt.Errorf("workerproc: handler-shaped app has nil Handler")
		}
		return app.Handler(ctx, req)
	case ShapeRouteTable:
		return dispatchRoute(ctx, app.Routes, req)
	default:
		return nil, fmt.Errorf("workerproc: unknown app shape %d", app.Shape)
	}
}

func dispatchRoute(ctx context.Context, routes RouteTable, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return &Response{Status: 400, Body: []byte("bad request")}, nil
	}
	entry, ok := routes[u.Path]
	if !ok {
		return &Response{Status: 404, Body: []byte("not found")}, nil
	}
	if h, ok := entry[req.Method]; ok {
		return h(ctx, req)
	}
	if h, ok := entry["*"]; ok {
		return h(ctx, req)
	}
	return &Response{Status: 405, Body: []byte("method not allowed")}, nil
}
