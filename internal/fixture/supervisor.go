// Package fixture supervises the set of processes one integration test (or
// one fixturectl run) needs: it shares a port allocator, a live-process
// registry and a health poller between members, brings them up in order or
// in parallel, tears them down, and checks nothing was leaked.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/fixturectl/internal/env"
	"github.com/loykin/fixturectl/internal/health"
	"github.com/loykin/fixturectl/internal/history"
	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/process"
	"github.com/loykin/fixturectl/internal/registry"
	"github.com/loykin/fixturectl/internal/waiter"
)

var (
	ErrDuplicate = errors.New("duplicate member")
	ErrNotFound  = errors.New("member not found")
)

// historyTimeout bounds a single history write.
const historyTimeout = 5 * time.Second

// Options configure a Supervisor. Zero values are usable.
type Options struct {
	// RunID identifies this run in logs and history; generated when empty.
	RunID string
	// LogDir is the parent of per-member log directories for members that
	// do not set their own.
	LogDir string
	Host   string
	Ports  ports.Options
	// Parallel starts members concurrently.
	Parallel bool
	// Env holds fixture-wide K=V overrides applied to every member.
	Env     []string
	History history.Sink
	Logger  *slog.Logger
	Waiter  waiter.Waiter
}

// Supervisor owns the members of one fixture.
type Supervisor struct {
	runID    string
	opts     Options
	alloc    *ports.Allocator
	reg      *registry.Registry
	poller   *health.Poller
	env      *env.Env
	sink     history.Sink
	logger   *slog.Logger
	parallel bool

	mu      sync.RWMutex
	order   []string
	members map[string]*process.ManagedProcess
}

// New creates an empty Supervisor.
func New(opts Options) *Supervisor {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	logger := opts.Logger.With("run", opts.RunID)
	if opts.Waiter.Logger == nil {
		opts.Waiter.Logger = logger
	}
	e := env.New()
	for _, kv := range opts.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			e = e.WithSet(k, v)
		}
	}
	return &Supervisor{
		runID:    opts.RunID,
		opts:     opts,
		alloc:    ports.New(opts.Ports),
		reg:      registry.New(logger),
		poller:   health.NewPoller(logger),
		env:      e,
		sink:     opts.History,
		logger:   logger,
		parallel: opts.Parallel,
		members:  make(map[string]*process.ManagedProcess),
	}
}

// RunID returns the run identifier.
func (s *Supervisor) RunID() string { return s.runID }

// Registry exposes the live-process counter shared by all members.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Ports exposes the shared allocator, for callers that need extra ports
// (e.g. for a database the fixture does not supervise).
func (s *Supervisor) Ports() *ports.Allocator { return s.alloc }

// Add registers a member. It is not started until Up.
func (s *Supervisor) Add(cfg process.Config) (*process.ManagedProcess, error) {
	if cfg.LogDir == "" && s.opts.LogDir != "" {
		cfg.LogDir = filepath.Join(s.opts.LogDir, cfg.Name)
	}
	if cfg.Host == "" {
		cfg.Host = s.opts.Host
	}
	p, err := process.New(cfg, process.Deps{
		Ports:    s.alloc,
		Registry: s.reg,
		Poller:   s.poller,
		Waiter:   s.opts.Waiter,
		Logger:   s.logger,
		Env:      s.env,
		Observer: s.record,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, cfg.Name)
	}
	s.members[cfg.Name] = p
	s.order = append(s.order, cfg.Name)
	return p, nil
}

// Members returns members in the order they were added.
func (s *Supervisor) Members() []*process.ManagedProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*process.ManagedProcess, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.members[n])
	}
	return out
}

// Member looks a member up by name.
func (s *Supervisor) Member(name string) (*process.ManagedProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Up starts every member and then waits for each member's WaitState. On
// failure everything already started is killed before returning.
func (s *Supervisor) Up(ctx context.Context) error {
	members := s.Members()
	s.logger.Info("bringing fixture up", "members", len(members), "parallel", s.parallel)

	err := s.each(ctx, members, func(ctx context.Context, p *process.ManagedProcess) error {
		return p.Start(ctx)
	})
	if err == nil {
		err = s.each(ctx, members, func(ctx context.Context, p *process.ManagedProcess) error {
			if st := p.Config().WaitState; st != "" {
				return p.WaitForState(ctx, st, 0)
			}
			return nil
		})
	}
	if err != nil {
		s.logger.Error("fixture failed to come up", "error", err)
		if derr := s.Down(context.WithoutCancel(ctx), process.Forced); derr != nil {
			s.logger.Warn("teardown after failed start", "error", derr)
		}
		return err
	}
	s.logger.Info("fixture is up", "running", s.reg.Running())
	return nil
}

func (s *Supervisor) each(ctx context.Context, members []*process.ManagedProcess, fn func(context.Context, *process.ManagedProcess) error) error {
	if !s.parallel {
		for _, p := range members {
			if err := fn(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range members {
		g.Go(func() error { return fn(gctx, p) })
	}
	return g.Wait()
}

// Down stops every member concurrently and waits for all of them. It is
// safe to call more than once.
func (s *Supervisor) Down(ctx context.Context, mode process.StopMode) error {
	members := s.Members()
	errs := make([]error, len(members))
	var g errgroup.Group
	for i, p := range members {
		g.Go(func() error {
			if mode == process.Forced {
				errs[i] = p.Kill(ctx)
			} else {
				errs[i] = p.Terminate(ctx)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("fixture is down", "mode", mode.String(), "running", s.reg.Running())
	return errors.Join(errs...)
}

// Stop stops one member.
func (s *Supervisor) Stop(ctx context.Context, name string, mode process.StopMode) error {
	p, err := s.Member(name)
	if err != nil {
		return err
	}
	if mode == process.Forced {
		return p.Kill(ctx)
	}
	return p.Terminate(ctx)
}

// Check fails when any member process is still running, naming testName.
func (s *Supervisor) Check(testName string) error {
	err := s.reg.Check(testName)
	if err != nil {
		s.send(history.Event{Type: history.EventLeak, Name: testName, Err: err.Error()})
	}
	return err
}

// Status snapshots all members in order.
func (s *Supervisor) Status() []process.Status {
	members := s.Members()
	out := make([]process.Status, 0, len(members))
	for _, p := range members {
		out = append(out, p.Status())
	}
	return out
}

// StatusMatch snapshots members whose name matches a glob pattern.
func (s *Supervisor) StatusMatch(pattern string) ([]process.Status, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	var out []process.Status
	for _, p := range s.Members() {
		if ok, _ := path.Match(pattern, p.Name()); ok {
			out = append(out, p.Status())
		}
	}
	return out, nil
}

// Close releases the history sink.
func (s *Supervisor) Close() error {
	return s.sink.Close()
}

func (s *Supervisor) record(ev process.Event) {
	he := history.Event{
		Name:       ev.Name,
		Alias:      ev.Alias,
		PID:        ev.PID,
		Port:       ev.Port,
		Attempt:    ev.Attempt,
		OccurredAt: ev.At,
	}
	switch ev.Kind {
	case process.EventSpawned:
		he.Type = history.EventSpawn
	case process.EventAttemptFailed:
		he.Type = history.EventAttemptFailed
	case process.EventHealthy:
		he.Type = history.EventHealthy
	case process.EventFailed:
		he.Type = history.EventFailed
	case process.EventStopped:
		he.Type = history.EventStop
	default:
		return
	}
	if ev.Err != nil {
		he.Err = ev.Err.Error()
	}
	s.send(he)
}

// send records an event; failures are logged and never reach the caller.
func (s *Supervisor) send(e history.Event) {
	e.RunID = s.runID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.sink.Send(ctx, e); err != nil {
		s.logger.Warn("record history event", "type", e.Type, "name", e.Name, "error", err)
	}
}
