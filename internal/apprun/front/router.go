// Package front wires the runtime's entry HTTP surface: it resolves an
// inbound request to an installed app, loads that app's config, and hands
// off to the Dispatcher Facade, with the middleware chain (security
// headers, CSRF, correlation id) applied around every route.
package front

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"apprun/internal/apprun/config"
	"apprun/internal/apprun/dispatcher"
	"apprun/internal/apprun/ipc"
	"apprun/internal/apprun/metadatastore"
	"apprun/internal/apprun/metrics"
	"apprun/internal/apprun/middleware"
)

// Options configures the front router.
type Options struct {
	AppsRoot                string // directory each installed app's own directory lives under
	MaxBodySizeCeilingBytes int64
	SecurityHeaders         middleware.SecurityHeadersConfig
	Logger                  *slog.Logger
}

// Router is the runtime's front door: one http.Handler serving
// /apps/<name>/... by dispatching into that app's worker pool entry, plus
// /metrics for Prometheus scraping.
type Router struct {
	store      *metadatastore.Store
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	opts       Options
	mux        *http.ServeMux
}

// New builds a Router and its middleware chain.
func New(store *metadatastore.Store, d *dispatcher.Dispatcher, m *metrics.Metrics, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Router{store: store, dispatcher: d, metrics: m, opts: opts}
	r.mux = r.newMux()
	return r
}

func (r *Router) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/apps/", r.handleApp)
	if h := r.metrics.Handler(); h != nil {
		mux.Handle("/metrics", h)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ServeHTTP applies the middleware chain around the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := middleware.Correlation(middleware.CSRF(r.mux))
	middleware.SecurityHeaders(r.opts.SecurityHeaders)(handler).ServeHTTP(w, req)
}

// handleApp resolves "/apps/<name>/<rest>" to an installed app, loads its
// config, and dispatches the request through the Dispatcher Facade.
func (r *Router) handleApp(w http.ResponseWriter, req *http.Request) {
	name, rest, ok := splitAppPath(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}

	app, err := r.store.GetInstalledApp(req.Context(), name)
	if err != nil {
		http.NotFound(w, req)
		return
	}

	var manifest config.Manifest
	if err := json.Unmarshal([]byte(app.ManifestJSON), &manifest); err != nil {
		r.opts.Logger.Error("corrupt manifest json", slog.String("app", name), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	cfg, err := config.Load(manifest, config.Options{
		MaxBodySizeCeilingBytes: r.opts.MaxBodySizeCeilingBytes,
		Logger:                  r.opts.Logger,
	})
	if err != nil {
		r.opts.Logger.Error("app config failed validation", slog.String("app", name), slog.Any("err", err))
		http.Error(w, "app misconfigured", http.StatusInternalServerError)
		return
	}

	if cfg.MaxBodySizeBytes > 0 && req.ContentLength > cfg.MaxBodySizeBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, cfg.MaxBodySizeBytes+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[strings.ToLower(k)] = req.Header.Get(k)
	}

	appDir := path.Join(r.opts.AppsRoot, name)
	resp, err := r.dispatcher.Fetch(req.Context(), appDir, cfg, &ipc.RequestPayload{
		Method:  req.Method,
		URL:     rest,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		status := dispatcher.StatusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// splitAppPath splits "/apps/<name>/<rest>" into name and a "/"-prefixed
// rest path; ok is false for anything not matching that shape.
func splitAppPath(p string) (name, rest string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/apps/")
	if trimmed == p {
		return "", "", false
	}
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, "/", trimmed != ""
	}
	name = trimmed[:idx]
	rest = trimmed[idx:]
	if rest == "" {
		rest = "/"
	}
	return name, rest, name != ""
}
