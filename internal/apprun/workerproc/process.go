package workerproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"apprun/internal/apprun/ipc"
)

// Config bundles what Run needs to serve one app for its process lifetime.
type Config struct {
	App *App
	// BasePath is the default injected as <base href>, typically
	// "/apps/<name>/" as set by the parent's APPRUN_BASE_PATH env var. A
	// request's own "x-base" header, when present, overrides it for that
	// response.
	BasePath string
	// Env is the worker's resolved environment, filtered to public-prefixed
	// keys before being exposed to HTML pages via window.__env__.
	Env    map[string]string
	Logger *slog.Logger
}

// Run pumps IPC frames from r to w until the connection closes or a
// TERMINATE frame is handled. It is the entire body of cmd/apprun-worker's
// main loop once an App has been loaded.
func Run(ctx context.Context, r io.Reader, w io.Writer, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dec := ipc.NewDecoder(r)
	enc := ipc.NewEncoder(w)

	if err := enc.Encode(ipc.Frame{Type: ipc.FrameReady}); err != nil {
		return fmt.Errorf("workerproc: send ready: %w", err)
	}

	var wg sync.WaitGroup
	for {
		frame, err := dec.Decode()
		if err != nil {
			wg.Wait()
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("workerproc: decode frame: %w", err)
		}

		switch frame.Type {
		case ipc.FrameRequest:
			wg.Add(1)
			go func(f ipc.Frame) {
				defer wg.Done()
				handleRequest(ctx, cfg, enc, f, logger)
			}(frame)

		case ipc.FrameIdle:
			if cfg.App.OnIdle != nil {
				cfg.App.OnIdle(ctx)
			}

		case ipc.FrameTerminate:
			if cfg.App.OnTerminate != nil {
				cfg.App.OnTerminate(ctx)
			}
			wg.Wait()
			return nil

		default:
			logger.Warn("ignoring unexpected frame type", slog.String("type", string(frame.Type)))
		}
	}
}

func handleRequest(ctx context.Context, cfg Config, enc *ipc.Encoder, frame ipc.Frame, logger *slog.Logger) {
	reqID := frame.ReqID
	defer func() {
		if r := recover(); r != nil {
			_ = enc.Encode(ipc.Frame{
				Type:  ipc.FrameError,
				ReqID: reqID,
				Error: fmt.Sprintf("panic: %v", r),
				Stack: string(debug.Stack()),
			})
		}
	}()

	if frame.Req == nil {
		_ = enc.Encode(ipc.Frame{Type: ipc.FrameError, ReqID: reqID, Error: "request frame missing payload"})
		return
	}

	req := &Request{
		Method:  frame.Req.Method,
		URL:     frame.Req.URL,
		Headers: frame.Req.Headers,
		Body:    frame.Req.Body,
	}

	resp, err := dispatch(ctx, cfg.App, req)
	if err != nil {
		logger.Error("handler error", slog.String("req_id", reqID), slog.Any("err", err))
		_ = enc.Encode(ipc.Frame{Type: ipc.FrameError, ReqID: reqID, Error: err.Error()})
		return
	}

	headers := sanitizeHeaders(resp.Headers)
	body := resp.Body
	if isHTML(headers) {
		basePath := cfg.BasePath
		if v := headerValue(req.Headers, "x-base"); v != "" {
			basePath = v
		}
		body = injectHTML(body, basePath, cfg.Env)
	}

	_ = enc.Encode(ipc.Frame{
		Type:  ipc.FrameResponse,
		ReqID: reqID,
		Res: &ipc.ResponsePayload{
			Status:  resp.Status,
			Headers: headers,
			Body:    body,
		},
	})
}

func isHTML(headers map[string]string) bool {
	return strings.Contains(strings.ToLower(headerValue(headers, "content-type")), "text/html")
}

// headerValue does a case-insensitive lookup in a request/response header
// map, returning "" if absent.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
