//go:build !windows

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is the child process spawned by
// the controller tests; HELPER_MODE selects its behaviour.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	listen := func() {
		ln, err := net.Listen("tcp", "127.0.0.1:"+os.Getenv("PORT"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "listen:", err)
			os.Exit(2)
		}
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
	}

	mode := os.Getenv("HELPER_MODE")
	if mode == "slow-serve" {
		time.Sleep(300 * time.Millisecond)
		mode = "serve"
	}

	switch mode {
	case "serve":
		fmt.Println("proxy listening on", os.Getenv("PORT"))
		listen()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM)
		<-sig
		os.Exit(0)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		listen()
		select {}
	case "silent":
		time.Sleep(time.Minute)
	case "crash":
		listen()
		time.Sleep(300 * time.Millisecond)
		os.Exit(3)
	case "exit":
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY")
		os.Exit(1)
	}
	os.Exit(0)
}

func helperController(t *testing.T, opts Options) *Controller {
	t.Helper()
	opts.Command = []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"}
	if opts.StartTimeout == 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	opts.Logger = slog.New(slog.DiscardHandler)
	c := New(opts)
	t.Cleanup(func() { c.Stop() })
	return c
}

func helperEnv(mode string, port int) map[string]string {
	return map[string]string{
		"GO_WANT_HELPER_PROCESS": "1",
		"HELPER_MODE":            mode,
		"PORT":                   strconv.Itoa(port),
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartAndStop(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	info, err := c.Start(context.Background(), helperEnv("serve", port), port)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if info.PID <= 0 || info.Port != port {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if !c.IsRunning() {
		t.Error("Controller should report running")
	}
	if c.State() != Running {
		t.Errorf("State = %s, want running", c.State())
	}

	if !c.Stop() {
		t.Error("Stop should confirm exit")
	}
	if c.IsRunning() {
		t.Error("Controller should not be running after stop")
	}
	if _, ok := c.Info(); ok {
		t.Error("Info should be absent after stop")
	}
	if c.State() != Idle {
		t.Errorf("State = %s, want idle", c.State())
	}

	stdout, _ := c.Output()
	if !strings.Contains(stdout, "proxy listening on") {
		t.Errorf("Output should capture child stdout, got %q", stdout)
	}
}

func TestStartTwiceReturnsSameProcess(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	first, err := c.Start(context.Background(), helperEnv("serve", port), port)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	second, err := c.Start(context.Background(), helperEnv("serve", port), port)
	if err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if first != second {
		t.Errorf("Second start should return existing info: %+v vs %+v", first, second)
	}
}

func TestStartTimeout(t *testing.T) {
	c := helperController(t, Options{StartTimeout: 300 * time.Millisecond})
	port := freePort(t)

	_, err := c.Start(context.Background(), helperEnv("silent", port), port)
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Expected ErrStartFailed, got %v", err)
	}
	if c.IsRunning() {
		t.Error("Controller should not be running after failed start")
	}
	if c.State() != Idle {
		t.Errorf("State = %s, want idle", c.State())
	}
}

func TestStartChildExitsEarly(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	start := time.Now()
	_, err := c.Start(context.Background(), helperEnv("exit", port), port)
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Expected ErrStartFailed, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("Early exit should fail fast instead of waiting for the timeout")
	}

	_, stderr := c.Output()
	if !strings.Contains(stderr, "missing OPENAI_API_KEY") {
		t.Errorf("Output should keep the failed child's stderr, got %q", stderr)
	}
}

func TestStartContextCancelled(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.Start(ctx, helperEnv("silent", port), port)
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Expected ErrStartFailed, got %v", err)
	}
	if c.IsRunning() {
		t.Error("Controller should not be running")
	}
}

func TestStartMissingBinary(t *testing.T) {
	c := New(Options{
		Command: []string{filepath.Join(t.TempDir(), "no-such-proxy")},
		Logger:  slog.New(slog.DiscardHandler),
	})

	_, err := c.Start(context.Background(), nil, freePort(t))
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Expected ErrStartFailed, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("State = %s, want idle", c.State())
	}
}

func TestStopWhenIdle(t *testing.T) {
	c := New(Options{Logger: slog.New(slog.DiscardHandler)})
	if !c.Stop() {
		t.Error("Stop on an idle controller should succeed")
	}
}

func TestStopKillsStubbornChild(t *testing.T) {
	c := helperController(t, Options{StopTimeout: 300 * time.Millisecond})
	port := freePort(t)

	if _, err := c.Start(context.Background(), helperEnv("ignore-term", port), port); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	if !c.Stop() {
		t.Error("Stop should confirm exit after kill")
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("Stop returned after %s, before the grace period", elapsed)
	}
	if c.IsRunning() {
		t.Error("Controller should not be running after stop")
	}
}

func TestCrashedChildNotRunning(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	if _, err := c.Start(context.Background(), helperEnv("crash", port), port); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("Crashed child still reported running")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if c.State() != Idle {
		t.Errorf("State = %s, want idle", c.State())
	}

	// A new start after a crash spawns a fresh child
	port = freePort(t)
	info, err := c.Start(context.Background(), helperEnv("serve", port), port)
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if info.Port != port {
		t.Errorf("Port = %d, want %d", info.Port, port)
	}
}

func TestStatusDoesNotBlockDuringStart(t *testing.T) {
	c := helperController(t, Options{StartTimeout: 2 * time.Second})
	port := freePort(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Start(context.Background(), helperEnv("silent", port), port)
	}()

	// Wait for the start to be in flight
	deadline := time.Now().Add(time.Second)
	for c.State() != Starting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan bool)
	go func() { done <- c.IsRunning() }()
	select {
	case running := <-done:
		if running {
			t.Error("Starting controller should not report running")
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("IsRunning blocked behind Start")
	}
	wg.Wait()
}

func TestConcurrentStartSpawnsOneProcess(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	const callers = 8
	pids := make([]int, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := c.Start(context.Background(), helperEnv("slow-serve", port), port)
			pids[i], errs[i] = info.PID, err
		}()
	}
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("Start %d failed: %v", i, errs[i])
		}
		if pids[i] != pids[0] {
			t.Errorf("Start %d got pid %d, want %d", i, pids[i], pids[0])
		}
	}
	info, ok := c.Info()
	if !ok || info.PID != pids[0] {
		t.Errorf("Info = %+v, %v; want pid %d", info, ok, pids[0])
	}
}

func TestStopRacingStart(t *testing.T) {
	c := helperController(t, Options{})
	port := freePort(t)

	type result struct {
		info Info
		err  error
	}
	started := make(chan result, 1)
	go func() {
		info, err := c.Start(context.Background(), helperEnv("slow-serve", port), port)
		started <- result{info, err}
	}()

	deadline := time.Now().Add(time.Second)
	for c.State() != Starting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.State() != Starting {
		t.Fatalf("State = %s, want starting", c.State())
	}

	if !c.Stop() {
		t.Error("Stop should confirm exit")
	}
	res := <-started

	if _, ok := c.Info(); ok {
		t.Error("Info should be absent after stop")
	}
	if c.State() != Idle {
		t.Errorf("State = %s, want idle", c.State())
	}
	if res.err == nil {
		if err := syscall.Kill(res.info.PID, 0); err == nil {
			t.Errorf("Child %d still alive after stop", res.info.PID)
		}
	}
}

func TestResolveWorkDir(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "proxy")
	got, err := ResolveWorkDir(abs)
	if err != nil {
		t.Fatalf("ResolveWorkDir failed: %v", err)
	}
	if got != abs {
		t.Errorf("Absolute dir = %q, want %q", got, abs)
	}

	rel, err := ResolveWorkDir("")
	if err != nil {
		t.Fatalf("ResolveWorkDir failed: %v", err)
	}
	if !filepath.IsAbs(rel) {
		t.Errorf("Relative dir should resolve to absolute, got %q", rel)
	}
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"PATH=/bin", "PORT=1", "HOME=/root"}, map[string]string{"PORT": "3000", "DEBUG": "1"})

	got := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if _, dup := got[k]; dup {
			t.Errorf("Duplicate key %s", k)
		}
		got[k] = v
	}
	if got["PORT"] != "3000" || got["DEBUG"] != "1" || got["PATH"] != "/bin" {
		t.Errorf("Unexpected env: %v", got)
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("hello "))
	b.Write([]byte("world"))
	if got := b.String(); got != "lo world" {
		t.Errorf("Tail = %q, want %q", got, "lo world")
	}
	b.Write([]byte("0123456789"))
	if got := b.String(); got != "23456789" {
		t.Errorf("Tail = %q, want %q", got, "23456789")
	}
}
