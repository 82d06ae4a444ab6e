package instance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"apprun/internal/apprun/config"
	"apprun/internal/apprun/ipc"
)

func slogTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestMain intercepts a re-exec of this same test binary (selected via
// GO_WANT_HELPER_PROCESS) and makes it behave like a minimal apprun-worker:
// emit READY, echo one RESPONSE per REQUEST, exit on TERMINATE. This is the
// standard os/exec helper-process pattern for testing subprocess wiring
// without a separately built binary.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runHelperWorker()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runHelperWorker() {
	enc := ipc.NewEncoder(os.Stdout)
	dec := ipc.NewDecoder(os.Stdin)
	_ = enc.Encode(ipc.Frame{Type: ipc.FrameReady})
	idleCount := 0
	for {
		f, err := dec.Decode()
		if err != nil {
			return
		}
		switch f.Type {
		case ipc.FrameRequest:
			if f.Req.URL == "/idle-count" {
				_ = enc.Encode(ipc.Frame{
					Type:  ipc.FrameResponse,
					ReqID: f.ReqID,
					Res:   &ipc.ResponsePayload{Status: 200, Body: []byte(fmt.Sprintf("%d", idleCount))},
				})
				continue
			}
			_ = enc.Encode(ipc.Frame{
				Type:  ipc.FrameResponse,
				ReqID: f.ReqID,
				Res:   &ipc.ResponsePayload{Status: 200, Body: []byte("echo:" + f.Req.Method)},
			})
		case ipc.FrameIdle:
			idleCount++
		case ipc.FrameTerminate:
			return
		}
	}
}

func helperCommand() (string, []string) {
	return os.Args[0], []string{"-test.run=TestMain"}
}

func spawnHelper(t *testing.T) *Instance {
	t.Helper()
	return spawnHelperWithConfig(t, config.WorkerConfig{
		TimeoutMs:     2000,
		IdleTimeoutMs: 1000,
		Env:           map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
	})
}

func spawnHelperWithConfig(t *testing.T, cfg config.WorkerConfig) *Instance {
	t.Helper()
	self, args := helperCommand()
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	cfg.Env["GO_WANT_HELPER_PROCESS"] = "1"

	inst, err := spawnWithArgs(context.Background(), t.TempDir(), "index.ts", "/apps/demo/", cfg, self, args, slogTestLogger())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	return inst
}

func TestInstanceFetchRoundTrip(t *testing.T) {
	inst := spawnHelper(t)
	defer inst.Terminate(time.Second)

	resp, err := inst.Fetch(context.Background(), &ipc.RequestPayload{Method: "GET", URL: "/"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != "echo:GET" {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
}

func TestInstanceStatusReflectsActivity(t *testing.T) {
	inst := spawnHelper(t)
	defer inst.Terminate(time.Second)

	if _, err := inst.Fetch(context.Background(), &ipc.RequestPayload{Method: "GET", URL: "/"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	st := inst.Status()
	if st.Active {
		t.Fatalf("expected no in-flight requests after fetch returns")
	}
	stats := inst.GetStats()
	if stats.RequestCount != 1 {
		t.Fatalf("expected 1 recorded request, got %d", stats.RequestCount)
	}
}

func TestInstanceTerminateStopsProcess(t *testing.T) {
	inst := spawnHelper(t)
	if err := inst.Terminate(time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if inst.IsHealthy() {
		t.Fatalf("expected unhealthy after terminate")
	}
}

func TestInstanceUnhealthyAfterTTL(t *testing.T) {
	inst := spawnHelperWithConfig(t, config.WorkerConfig{
		TimeoutMs:     2000,
		TTLMs:         30,
		IdleTimeoutMs: 1000,
	})
	defer inst.Terminate(time.Second)

	if !inst.IsHealthy() {
		t.Fatalf("expected healthy immediately after spawn")
	}
	time.Sleep(50 * time.Millisecond)
	if inst.IsHealthy() {
		t.Fatalf("expected unhealthy once age crosses ttlMs")
	}
}

func TestInstanceUnhealthyAfterIdleTimeout(t *testing.T) {
	inst := spawnHelperWithConfig(t, config.WorkerConfig{
		TimeoutMs:     2000,
		IdleTimeoutMs: 30,
	})
	defer inst.Terminate(time.Second)

	if _, err := inst.Fetch(context.Background(), &ipc.RequestPayload{Method: "GET", URL: "/"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if inst.IsHealthy() {
		t.Fatalf("expected unhealthy once idle time crosses idleTimeoutMs")
	}
}

func TestInstanceUnhealthyAfterMaxRequests(t *testing.T) {
	inst := spawnHelperWithConfig(t, config.WorkerConfig{
		TimeoutMs:     2000,
		IdleTimeoutMs: 1000,
		MaxRequests:   1,
	})
	defer inst.Terminate(time.Second)

	if !inst.IsHealthy() {
		t.Fatalf("expected healthy before first request")
	}
	if _, err := inst.Fetch(context.Background(), &ipc.RequestPayload{Method: "GET", URL: "/"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if inst.IsHealthy() {
		t.Fatalf("expected unhealthy once requestCount reaches maxRequests")
	}
}

func TestInstanceStatusSignalsIdleOnce(t *testing.T) {
	inst := spawnHelperWithConfig(t, config.WorkerConfig{
		TimeoutMs:     2000,
		IdleTimeoutMs: 30,
	})
	defer inst.Terminate(time.Second)

	if _, err := inst.Fetch(context.Background(), &ipc.RequestPayload{Method: "GET", URL: "/"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Call Status multiple times; only the first observed crossing should
	// emit an IDLE frame to the child.
	for i := 0; i < 3; i++ {
		st := inst.Status()
		if !st.Idle {
			t.Fatalf("expected idle status after crossing idleTimeoutMs")
		}
	}

	resp, err := inst.Fetch(context.Background(), &ipc.RequestPayload{Method: "GET", URL: "/idle-count"})
	if err != nil {
		t.Fatalf("fetch idle-count: %v", err)
	}
	if string(resp.Body) != "1" {
		t.Fatalf("expected exactly 1 idle frame delivered to child, got %q", resp.Body)
	}
}
