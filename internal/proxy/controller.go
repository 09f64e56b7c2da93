package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Defaults
const (
	DefaultHost         = "127.0.0.1"
	DefaultWorkDir      = ".."
	DefaultStartTimeout = 15 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopTimeout  = 5 * time.Second
	DefaultOutputLimit  = 64 * 1024

	dialTimeout = 200 * time.Millisecond
	killWait    = 2 * time.Second
)

// ErrStartFailed wraps every Start failure.
var ErrStartFailed = errors.New("proxy failed to start or port did not open in time")

// DefaultCommand runs the Node proxy entrypoint.
var DefaultCommand = []string{"node", "index.js"}

// State is the controller lifecycle state
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info describes a running proxy
type Info struct {
	PID       int
	Port      int
	StartedAt time.Time
}

// Options configures a Controller. Zero values take the defaults above.
type Options struct {
	Command      []string
	WorkDir      string
	Host         string
	StartTimeout time.Duration
	PollInterval time.Duration
	StopTimeout  time.Duration
	OutputLimit  int
	Logger       *slog.Logger
}

// process is one spawned child. done is closed once Wait has returned.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Controller supervises at most one proxy process.
type Controller struct {
	opts   Options
	logger *slog.Logger

	// lifecycle serialises Start and Stop
	lifecycle sync.Mutex

	mu     sync.RWMutex
	state  State
	proc   *process
	info   Info
	stdout *tailBuffer
	stderr *tailBuffer
}

// New creates an idle controller.
func New(opts Options) *Controller {
	if len(opts.Command) == 0 {
		opts.Command = DefaultCommand
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger}
}

// ResolveWorkDir returns dir unchanged when absolute; a relative dir is
// taken relative to the directory holding the running executable.
func ResolveWorkDir(dir string) (string, error) {
	if dir == "" {
		dir = DefaultWorkDir
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), dir), nil
}

// Start launches the proxy with env layered over the daemon environment and
// waits until port accepts connections. If a proxy is already running its
// info is returned and nothing is spawned.
func (c *Controller) Start(ctx context.Context, env map[string]string, port int) (Info, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if info, ok := c.Info(); ok {
		c.logger.Debug("proxy already running", "pid", info.PID, "port", info.Port)
		return info, nil
	}

	stdout := newTailBuffer(c.opts.OutputLimit)
	stderr := newTailBuffer(c.opts.OutputLimit)

	cmd := exec.Command(c.opts.Command[0], c.opts.Command[1:]...)
	cmd.Dir = c.opts.WorkDir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Grandchildren holding the output pipes must not stall Wait
	cmd.WaitDelay = time.Second

	c.mu.Lock()
	c.state = Starting
	c.stdout, c.stderr = stdout, stderr
	c.mu.Unlock()

	if err := cmd.Start(); err != nil {
		c.setIdle()
		c.logger.Error("failed to spawn proxy", "command", c.opts.Command[0], "error", err)
		return Info{}, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	proc := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	startedAt := time.Now()

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()

	c.logger.Debug("spawned proxy", "pid", cmd.Process.Pid, "port", port, "dir", cmd.Dir)

	if err := c.waitForPort(ctx, port, proc); err != nil {
		c.kill(proc)
		c.setIdle()
		c.logger.Error("proxy did not become ready",
			"pid", cmd.Process.Pid,
			"port", port,
			"error", err,
			"stderr", lastLine(stderr.String()),
		)
		return Info{}, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	info := Info{PID: cmd.Process.Pid, Port: port, StartedAt: startedAt}
	c.mu.Lock()
	c.info = info
	c.state = Running
	c.mu.Unlock()

	c.logger.Info("proxy started", "pid", info.PID, "port", port)
	return info, nil
}

// waitForPort polls host:port until it accepts a connection, the child
// exits, ctx is done, or the start timeout passes.
func (c *Controller) waitForPort(ctx context.Context, port int, proc *process) error {
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(port))
	deadline := time.NewTimer(c.opts.StartTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.opts.PollInterval)
	defer tick.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-proc.done:
			return fmt.Errorf("process exited before port %d opened: %v", port, proc.err)
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("port %d not open after %s", port, c.opts.StartTimeout)
		case <-tick.C:
		}
	}
}

// Stop terminates the proxy. It returns true when no proxy was running or
// the process exit was confirmed. State is cleared either way.
func (c *Controller) Stop() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	proc := c.proc
	if proc == nil {
		c.state = Idle
		c.mu.Unlock()
		return true
	}
	c.state = Stopping
	c.mu.Unlock()

	stopped := c.terminate(proc)
	c.setIdle()

	if stopped {
		c.logger.Info("proxy stopped", "pid", proc.cmd.Process.Pid)
	} else {
		c.logger.Error("proxy exit not confirmed", "pid", proc.cmd.Process.Pid)
	}
	return stopped
}

// terminate sends SIGTERM, waits StopTimeout, then kills
func (c *Controller) terminate(proc *process) bool {
	if proc.exited() {
		return true
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Platforms without SIGTERM go straight to Kill
		c.logger.Debug("SIGTERM failed, killing", "pid", proc.cmd.Process.Pid, "error", err)
		return c.kill(proc)
	}

	select {
	case <-proc.done:
		return true
	case <-time.After(c.opts.StopTimeout):
	}

	c.logger.Warn("proxy ignored SIGTERM, killing", "pid", proc.cmd.Process.Pid, "timeout", c.opts.StopTimeout)
	return c.kill(proc)
}

// kill force-kills the child and waits briefly for the reaper
func (c *Controller) kill(proc *process) bool {
	if proc.exited() {
		return true
	}
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("failed to kill proxy", "pid", proc.cmd.Process.Pid, "error", err)
	}
	select {
	case <-proc.done:
		return true
	case <-time.After(killWait):
		return false
	}
}

func (c *Controller) setIdle() {
	c.mu.Lock()
	c.proc = nil
	c.info = Info{}
	c.state = Idle
	c.mu.Unlock()
}

// Info returns the running proxy's info. A child that has exited on its own
// is cleaned up and reported as not running.
func (c *Controller) Info() (Info, bool) {
	c.mu.RLock()
	proc, state, info := c.proc, c.state, c.info
	c.mu.RUnlock()

	if proc == nil || state != Running {
		return Info{}, false
	}
	if proc.exited() {
		c.reap(proc)
		return Info{}, false
	}
	return info, true
}

// reap clears a proxy that exited outside of Stop
func (c *Controller) reap(proc *process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != proc || c.state != Running {
		return
	}
	c.logger.Warn("proxy exited unexpectedly", "pid", c.info.PID, "error", proc.err)
	c.proc = nil
	c.info = Info{}
	c.state = Idle
}

// IsRunning reports whether the proxy is up. It never blocks on Start or Stop.
func (c *Controller) IsRunning() bool {
	_, ok := c.Info()
	return ok
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.IsRunning()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Output returns the captured tail of the most recent child's stdout and stderr.
func (c *Controller) Output() (stdout, stderr string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdout.String(), c.stderr.String()
}

// mergeEnv overlays extra on base, replacing existing keys
func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
