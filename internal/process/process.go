package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/fixturectl/internal/env"
	"github.com/loykin/fixturectl/internal/health"
	"github.com/loykin/fixturectl/internal/metrics"
	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/registry"
	"github.com/loykin/fixturectl/internal/waiter"
)

// PortReserver hands out ports that are not in use by other fixtures.
type PortReserver interface {
	Reserve(n int) ([]int, error)
}

// Registrar counts live child processes.
type Registrar interface {
	Inc(name string)
	Dec(name string)
}

// EventKind labels a lifecycle Event.
type EventKind string

const (
	EventSpawned       EventKind = "spawned"
	EventAttemptFailed EventKind = "attempt_failed"
	EventHealthy       EventKind = "healthy"
	EventFailed        EventKind = "failed"
	EventStopped       EventKind = "stopped"
)

// Event is emitted to Deps.Observer at lifecycle milestones.
type Event struct {
	Kind    EventKind
	Name    string
	Alias   string
	PID     int
	Port    int
	Attempt int
	Err     error
	At      time.Time
}

// Deps are the collaborators shared between processes of one fixture.
// Nil fields get private defaults.
type Deps struct {
	Ports    PortReserver
	Registry Registrar
	Poller   *health.Poller
	Waiter   waiter.Waiter
	Logger   *slog.Logger
	Env      *env.Env
	Observer func(Event)
}

// ManagedProcess supervises one child binary: it allocates ports, spawns the
// child with retries until its status endpoint answers, and stops it again.
// A single goroutine owns cmd.Wait for each spawned handle and closes done
// once the child has been reaped.
type ManagedProcess struct {
	cfg      Config
	ready    health.Predicate
	ports    PortReserver
	registry Registrar
	poller   *health.Poller
	waiter   waiter.Waiter
	logger   *slog.Logger
	env      *env.Env
	observer func(Event)

	stopMu sync.Mutex

	mu        sync.Mutex
	state     State
	port      int
	rpcPort   int
	cmd       *exec.Cmd
	done      chan struct{}
	exitErr   error
	attempts  int
	logFiles  []string
	startedAt time.Time
	healthyAt time.Time
	stoppedAt time.Time
}

// New validates cfg and returns a process in NotStarted.
func New(cfg Config, deps Deps) (*ManagedProcess, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &ManagedProcess{
		cfg:      cfg,
		ports:    deps.Ports,
		registry: deps.Registry,
		waiter:   deps.Waiter,
		logger:   deps.Logger,
		env:      deps.Env,
		observer: deps.Observer,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("process", cfg.Name)
	if p.waiter.Logger == nil {
		p.waiter.Logger = p.logger
	}
	if p.ports == nil {
		p.ports = ports.New(ports.Options{Probe: true})
	}
	if p.registry == nil {
		p.registry = registry.New(p.logger)
	}
	if p.env == nil {
		p.env = env.New()
	}

	poller := deps.Poller
	if poller == nil {
		poller = health.NewPoller(p.logger)
	}
	if poller.Path != cfg.Health.Path {
		cp := *poller
		cp.Path = cfg.Health.Path
		poller = &cp
	}
	p.poller = poller

	if cfg.Health.ReadyPattern != "" {
		pred, err := health.MatchString(cfg.Health.ReadyPattern)
		if err != nil {
			return nil, err
		}
		p.ready = pred
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *ManagedProcess) Config() Config { return p.cfg }

// Name returns the configured name.
func (p *ManagedProcess) Name() string { return p.cfg.Name }

// State returns the current lifecycle stage.
func (p *ManagedProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ports returns the HTTP and RPC ports; zero until Start allocates them.
func (p *ManagedProcess) Ports() (port, rpcPort int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port, p.rpcPort
}

// PID returns the current child's pid, or 0 when none is running.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Alive reports whether a spawned child has not yet been reaped.
func (p *ManagedProcess) Alive() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	return done != nil && !exited(done)
}

// Host is the advertised host name.
func (p *ManagedProcess) Host() string {
	if p.cfg.Host != "" {
		return p.cfg.Host
	}
	return HostIdentity()
}

// Addr is host:port of the status endpoint.
func (p *ManagedProcess) Addr() string {
	port, _ := p.Ports()
	return joinHostPort(p.Host(), port)
}

// RPCAddr is host:rpcPort, or "" when the process has no RPC port.
func (p *ManagedProcess) RPCAddr() string {
	_, rpc := p.Ports()
	if rpc == 0 {
		return ""
	}
	return joinHostPort(p.Host(), rpc)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// HostIdentity is the machine's host name, or "localhost" when unknown.
func HostIdentity() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// Start allocates ports once and spawns the child until its status endpoint
// answers, up to StartRetries attempts. Ports are kept across attempts.
func (p *ManagedProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.state.Terminal():
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, p.cfg.Name, st)
	case p.state != NotStarted:
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, p.cfg.Name)
	}
	p.setStateLocked(Starting)
	p.startedAt = time.Now()
	p.mu.Unlock()

	if err := p.allocatePorts(); err != nil {
		p.fail(err)
		return err
	}
	if p.cfg.PIDFile != "" {
		if pid, alive := StalePID(p.cfg.PIDFile); alive {
			p.logger.Warn("pid file names a live process from an earlier run", "path", p.cfg.PIDFile, "pid", pid)
		}
	}

	var last error
	for attempt := 1; attempt <= p.cfg.StartRetries; attempt++ {
		err := p.attempt(ctx, attempt)
		if err == nil {
			if err = p.markHealthy(); err == nil {
				return nil
			}
			return err
		}
		last = err
		p.logger.Error("cannot start process on time", "attempt", attempt, "of", p.cfg.StartRetries, "error", err)
		p.emit(Event{Kind: EventAttemptFailed, Attempt: attempt, Err: err})
		if rerr := p.release(ctx, Forced); rerr != nil {
			p.logger.Warn("reaping failed attempt", "attempt", attempt, "error", rerr)
		}

		if st := p.State(); st != Starting {
			return fmt.Errorf("%w: %s is %s", ErrStartAbandoned, p.cfg.Name, st)
		}
		if cerr := ctx.Err(); cerr != nil {
			p.fail(cerr)
			return fmt.Errorf("start %s: %w", p.cfg.Name, cerr)
		}
		if attempt < p.cfg.StartRetries {
			p.mu.Lock()
			p.setStateLocked(Starting)
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	files := append([]string(nil), p.logFiles...)
	p.mu.Unlock()
	err := &StartupExhaustedError{Name: p.cfg.Name, Attempts: p.cfg.StartRetries, LogFiles: files, Last: last}
	p.fail(err)
	metrics.IncStartupFailure(p.cfg.Name)
	return err
}

func (p *ManagedProcess) allocatePorts() error {
	n := 1
	if p.cfg.RPC {
		n = 2
	}
	got, err := p.ports.Reserve(n)
	if err != nil {
		return fmt.Errorf("allocate ports for %s: %w", p.cfg.Name, err)
	}
	p.mu.Lock()
	p.port = got[0]
	if p.cfg.RPC {
		p.rpcPort = got[1]
	}
	p.mu.Unlock()
	return nil
}

// attempt spawns once and waits for readiness. The spawned handle, if any,
// is left in place for the caller to reap.
func (p *ManagedProcess) attempt(ctx context.Context, attempt int) error {
	port, rpcPort := p.Ports()
	args := BuildArgs(p.cfg, port, rpcPort)
	logPath := LogPath(p.cfg.LogDir, p.cfg.Name, port, attempt)
	f, err := openLog(logPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(p.cfg.Binary, args...)
	cmd.Dir = p.cfg.WorkDir
	cmd.Env = p.env.Merge(p.cfg.Env)
	cmd.Stdout = f
	cmd.Stderr = f
	configureSysProcAttr(cmd)

	metrics.IncSpawnAttempt(p.cfg.Name)
	p.mu.Lock()
	p.attempts = attempt
	p.logFiles = append(p.logFiles, logPath)
	p.mu.Unlock()

	if err := cmd.Start(); err != nil {
		_, _ = fmt.Fprintf(f, "spawn of %s failed: %v\n", p.cfg.Binary, err)
		_ = f.Close()
		return fmt.Errorf("spawn %s: %w", p.cfg.Binary, err)
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.done = done
	p.exitErr = nil
	p.mu.Unlock()
	p.registry.Inc(p.cfg.Name)
	go p.reap(cmd, done)

	pid := cmd.Process.Pid
	writeSpawnLine(f, p.cfg, pid, attempt, args)
	_ = f.Close()
	if p.cfg.PIDFile != "" {
		if err := WritePIDFile(p.cfg.PIDFile, pid, p.Status()); err != nil {
			p.logger.Warn("write pid file", "path", p.cfg.PIDFile, "error", err)
		}
	}
	p.logger.Info("process spawned", "pid", pid, "port", port, "rpc_port", rpcPort, "attempt", attempt, "log", logPath)
	p.emit(Event{Kind: EventSpawned, PID: pid, Attempt: attempt})

	return p.awaitHealthy(ctx, done)
}

func (p *ManagedProcess) awaitHealthy(ctx context.Context, done chan struct{}) error {
	addr := p.Addr()
	desc := fmt.Sprintf("%s to answer on %s", p.cfg.Name, p.poller.URL(addr))
	return p.waiter.Until(ctx, desc, p.cfg.StartTimeout, p.cfg.StartPollInterval, func(ctx context.Context) (waiter.Result, error) {
		snap := p.poller.Fetch(ctx, addr)
		ok, observed := p.isReady(snap)
		if ok {
			return waiter.Result{Done: true}, nil
		}
		if exited(done) {
			return waiter.Result{}, &ProcessDiedError{Name: p.cfg.Name, Waiting: "starting", Err: p.exitError()}
		}
		return waiter.Result{Observed: observed}, nil
	})
}

func (p *ManagedProcess) isReady(s health.Snapshot) (bool, string) {
	if !s.OK() {
		return false, s.Availability.String()
	}
	if p.ready == nil {
		return true, ""
	}
	ok, observed, _ := p.ready(s, p.cfg.Health.StateField)
	return ok, observed
}

func (p *ManagedProcess) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(done)
}

func exited(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (p *ManagedProcess) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *ManagedProcess) markHealthy() error {
	p.mu.Lock()
	if p.state != Starting {
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrStartAbandoned, p.cfg.Name, st)
	}
	p.setStateLocked(Healthy)
	p.healthyAt = time.Now()
	elapsed := p.healthyAt.Sub(p.startedAt)
	p.mu.Unlock()
	metrics.IncHealthy(p.cfg.Name)
	metrics.ObserveStartupDuration(p.cfg.Name, elapsed.Seconds())
	p.logger.Info("process healthy", "addr", p.Addr(), "pid", p.PID(), "elapsed", elapsed)
	p.emit(Event{Kind: EventHealthy, PID: p.PID()})
	return nil
}

func (p *ManagedProcess) fail(err error) {
	p.mu.Lock()
	p.setStateLocked(Failed)
	p.mu.Unlock()
	p.emit(Event{Kind: EventFailed, Err: err})
}

// WaitForState polls the state field until it matches pattern (anchored).
// A timeout of zero uses StateTimeout.
func (p *ManagedProcess) WaitForState(ctx context.Context, pattern string, timeout time.Duration) error {
	pred, err := health.MatchString(pattern)
	if err != nil {
		return err
	}
	return p.waitFor(ctx, p.cfg.Health.StateField, pred, "state "+pattern, timeout, 0)
}

// WaitForVar polls field every interval until pred accepts it. Zero timeout
// and interval fall back to StateTimeout and StatePollInterval.
func (p *ManagedProcess) WaitForVar(ctx context.Context, field string, pred health.Predicate, timeout, interval time.Duration) error {
	return p.waitFor(ctx, field, pred, field, timeout, interval)
}

func (p *ManagedProcess) waitFor(ctx context.Context, field string, pred health.Predicate, label string, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = p.cfg.StateTimeout
	}
	if interval <= 0 {
		interval = p.cfg.StatePollInterval
	}
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, p.cfg.Name)
	}

	addr := p.Addr()
	desc := fmt.Sprintf("waiting for %s on %s", label, p.cfg.Name)
	return p.waiter.Until(ctx, desc, timeout, interval, func(ctx context.Context) (waiter.Result, error) {
		snap := p.poller.Fetch(ctx, addr)
		if snap.OK() {
			ok, observed, present := pred(snap, field)
			if ok {
				return waiter.Result{Done: true}, nil
			}
			if exited(done) {
				return waiter.Result{}, &ProcessDiedError{Name: p.cfg.Name, Waiting: desc, Err: p.exitError()}
			}
			if !present {
				p.logger.Debug("status document does not export field", "field", field)
				return waiter.Result{Observed: "absent"}, nil
			}
			return waiter.Result{Observed: observed}, nil
		}
		if exited(done) {
			return waiter.Result{}, &ProcessDiedError{Name: p.cfg.Name, Waiting: desc, Err: p.exitError()}
		}
		p.logger.Debug("status endpoint not answering", "addr", addr, "availability", snap.Availability.String())
		return waiter.Result{Observed: snap.Availability.String()}, nil
	})
}

// Terminate sends SIGTERM to the child's process group and blocks until it
// has been reaped. Calling it again, or on a never-started process, is a
// no-op.
func (p *ManagedProcess) Terminate(ctx context.Context) error {
	return p.stop(ctx, Graceful)
}

// Kill is Terminate with SIGKILL.
func (p *ManagedProcess) Kill(ctx context.Context) error {
	return p.stop(ctx, Forced)
}

func (p *ManagedProcess) stop(ctx context.Context, mode StopMode) error {
	p.mu.Lock()
	running := p.cmd != nil
	if running && (p.state == Starting || p.state == Healthy) {
		p.setStateLocked(Terminating)
	}
	p.mu.Unlock()
	if !running {
		return nil
	}

	err := p.release(ctx, mode)

	p.mu.Lock()
	if p.state == Terminating {
		p.setStateLocked(Stopped)
		p.stoppedAt = time.Now()
	}
	p.mu.Unlock()
	p.logger.Info("process stopped", "mode", mode.String())
	p.emit(Event{Kind: EventStopped, Err: err})
	return err
}

// release signals and reaps the current handle without touching the
// lifecycle state. The registry is decremented exactly once per handle.
func (p *ManagedProcess) release(ctx context.Context, mode StopMode) error {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	pid := cmd.Process.Pid

	var sigErr error
	if !exited(done) {
		if err := signalGroup(cmd.Process, mode); err != nil {
			sigErr = fmt.Errorf("signal %s (pid %d): %w", p.cfg.Name, pid, err)
		}
	}

	var waitErr error
	var timeout <-chan time.Time
	if mode == Graceful && p.cfg.StopTimeout > 0 {
		t := time.NewTimer(p.cfg.StopTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-done:
	case <-timeout:
		p.logger.Warn("graceful stop timed out, killing", "pid", pid, "timeout", p.cfg.StopTimeout)
		_ = signalGroup(cmd.Process, Forced)
		<-done
		mode = Forced
	case <-ctx.Done():
		_ = signalGroup(cmd.Process, Forced)
		<-done
		waitErr = fmt.Errorf("stop %s: %w", p.cfg.Name, ctx.Err())
		mode = Forced
	}

	p.mu.Lock()
	p.cmd = nil
	p.done = nil
	p.mu.Unlock()
	p.registry.Dec(p.cfg.Name)
	metrics.IncTermination(p.cfg.Name, mode.String())
	if p.cfg.PIDFile != "" {
		if err := os.Remove(p.cfg.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("remove pid file", "path", p.cfg.PIDFile, "error", err)
		}
	}
	return errors.Join(sigErr, waitErr)
}

func (p *ManagedProcess) emit(ev Event) {
	if p.observer == nil {
		return
	}
	ev.Name = p.cfg.Name
	ev.Alias = p.cfg.Alias
	if ev.Port == 0 {
		ev.Port, _ = p.Ports()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.observer(ev)
}
