package workerproc

import (
	"context"
	"io"
	"strings"
	"testing"

	"apprun/internal/apprun/ipc"
)

func TestRunRoundTripsRequestAndTerminates(t *testing.T) {
	parentR, childW := io.Pipe() // child writes -> parent reads
	childR, parentW := io.Pipe() // parent writes -> child reads

	app := &App{
		Shape: ShapeHandler,
		Handler: func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{Status: 200, Headers: map[string]string{"content-type": "text/plain"}, Body: []byte("ok:" + req.Method)}, nil
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), childR, childW, Config{App: app})
	}()

	parentEnc := ipc.NewEncoder(parentW)
	parentDec := ipc.NewDecoder(parentR)

	ready, err := parentDec.Decode()
	if err != nil || ready.Type != ipc.FrameReady {
		t.Fatalf("expected ready frame, got %+v err=%v", ready, err)
	}

	if err := parentEnc.Encode(ipc.Frame{
		Type:  ipc.FrameRequest,
		ReqID: "1",
		Req:   &ipc.RequestPayload{Method: "GET", URL: "/x"},
	}); err != nil {
		t.Fatalf("encode request: %v", err)
	}

	resp, err := parentDec.Decode()
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != ipc.FrameResponse || resp.Res == nil || string(resp.Res.Body) != "ok:GET" {
		t.Fatalf("unexpected response frame: %+v", resp)
	}

	if err := parentEnc.Encode(ipc.Frame{Type: ipc.FrameTerminate}); err != nil {
		t.Fatalf("encode terminate: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunHonorsPerRequestXBaseOverride(t *testing.T) {
	parentR, childW := io.Pipe()
	childR, parentW := io.Pipe()

	app := &App{
		Shape: ShapeHandler,
		Handler: func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{
				Status:  200,
				Headers: map[string]string{"content-type": "text/html"},
				Body:    []byte("<html><head></head><body></body></html>"),
			}, nil
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), childR, childW, Config{App: app, BasePath: "/apps/default/"})
	}()

	parentEnc := ipc.NewEncoder(parentW)
	parentDec := ipc.NewDecoder(parentR)

	if _, err := parentDec.Decode(); err != nil {
		t.Fatalf("ready: %v", err)
	}

	if err := parentEnc.Encode(ipc.Frame{
		Type:  ipc.FrameRequest,
		ReqID: "1",
		Req:   &ipc.RequestPayload{Method: "GET", URL: "/", Headers: map[string]string{"x-base": "/apps/override/"}},
	}); err != nil {
		t.Fatalf("encode request: %v", err)
	}

	resp, err := parentDec.Decode()
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Res == nil || !strings.Contains(string(resp.Res.Body), `<base href="/apps/override/">`) {
		t.Fatalf("expected x-base header to override the configured base path, got body: %s", resp.Res.Body)
	}

	if err := parentEnc.Encode(ipc.Frame{Type: ipc.FrameTerminate}); err != nil {
		t.Fatalf("encode terminate: %v", err)
	}
	<-done
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	parentR, childW := io.Pipe()
	childR, parentW := io.Pipe()

	app := &App{
		Shape: ShapeHandler,
		Handler: func(ctx context.Context, req *Request) (*Response, error) {
			panic("boom")
		},
	}

	go func() { _ = Run(context.Background(), childR, childW, Config{App: app}) }()

	parentEnc := ipc.NewEncoder(parentW)
	parentDec := ipc.NewDecoder(parentR)

	if _, err := parentDec.Decode(); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := parentEnc.Encode(ipc.Frame{Type: ipc.FrameRequest, ReqID: "1", Req: &ipc.RequestPayload{Method: "GET", URL: "/x"}}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := parentDec.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != ipc.FrameError || resp.Error == "" {
		t.Fatalf("expected error frame from recovered panic, got %+v", resp)
	}
}
