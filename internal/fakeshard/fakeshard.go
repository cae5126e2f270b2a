// Package fakeshard is a stand-in for a storage or routing binary. It speaks
// the same status contract as the real thing (GET /debug/vars) and accepts
// the generated -port/-grpc_port/-log_dir flags, which makes it useful both
// in tests and for trying fixture configurations without the real binaries.
package fakeshard

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
)

// Options configures a fake shard.
type Options struct {
	Port     int
	GRPCPort int
	LogDir   string
	// State is reported as TabletStateName.
	State string
	// ReadyAfter delays the status endpoint (503 until it elapses).
	ReadyAfter time.Duration
	// ExitAfter makes the process exit on its own.
	ExitAfter time.Duration
	// Malformed serves a body that is not a JSON object.
	Malformed bool
	// PlayerCount is reported as BinlogPlayerMapSize.
	PlayerCount int
}

// ParseFlags parses the single-dash flag style the supervisor generates.
func ParseFlags(args []string) (Options, error) {
	var o Options
	fs := flag.NewFlagSet("fakeshard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&o.Port, "port", 0, "HTTP port")
	fs.IntVar(&o.GRPCPort, "grpc_port", 0, "RPC port")
	fs.StringVar(&o.LogDir, "log_dir", "", "log directory")
	fs.StringVar(&o.State, "state", "SERVING", "reported TabletStateName")
	fs.DurationVar(&o.ReadyAfter, "ready_after", 0, "delay before /debug/vars answers")
	fs.DurationVar(&o.ExitAfter, "exit_after", 0, "exit after this long")
	fs.BoolVar(&o.Malformed, "malformed", false, "serve a malformed status document")
	fs.IntVar(&o.PlayerCount, "binlog_players", 0, "reported BinlogPlayerMapSize")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if o.Port <= 0 {
		return Options{}, errors.New("-port is required")
	}
	return o, nil
}

// Server holds the mutable state reported through /debug/vars.
type Server struct {
	opts    Options
	started time.Time
	e       *echo.Echo

	mu      sync.Mutex
	state   string
	players int
}

// New builds the echo application for opts.
func New(opts Options) *Server {
	s := &Server{opts: opts, started: time.Now(), state: opts.State, players: opts.PlayerCount}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/debug/vars", s.handleVars)
	e.POST("/debug/state", s.handleSetState)
	e.POST("/debug/binlog_players", s.handleSetPlayers)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.e = e
	return s
}

// Handler exposes the application for httptest servers.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) handleVars(c echo.Context) error {
	if time.Since(s.started) < s.opts.ReadyAfter {
		return c.String(http.StatusServiceUnavailable, "starting")
	}
	if s.opts.Malformed {
		return c.HTML(http.StatusOK, "<html>this is not the process you are looking for</html>")
	}
	s.mu.Lock()
	vars := map[string]any{
		"TabletStateName":     s.state,
		"BinlogPlayerMapSize": s.players,
		"UpdateStreamState":   "Enabled",
		"Port":                s.opts.Port,
		"GRPCPort":            s.opts.GRPCPort,
		"PID":                 os.Getpid(),
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, vars)
}

func (s *Server) handleSetState(c echo.Context) error {
	state := c.QueryParam("state")
	if state == "" {
		return c.String(http.StatusBadRequest, "state required")
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSetPlayers(c echo.Context) error {
	n, err := strconv.Atoi(c.QueryParam("count"))
	if err != nil || n < 0 {
		return c.String(http.StatusBadRequest, "count must be a non-negative integer")
	}
	s.mu.Lock()
	s.players = n
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

// Run serves until ctx is cancelled or ExitAfter elapses.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.opts.Port, err)
	}
	if s.opts.GRPCPort > 0 {
		rpc, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.GRPCPort))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on rpc port %d: %w", s.opts.GRPCPort, err)
		}
		defer rpc.Close()
		go acceptAndClose(rpc)
	}

	if s.opts.ExitAfter > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ExitAfter)
		defer cancel()
	}

	srv := &http.Server{Handler: s.e, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func acceptAndClose(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}
}

// Main is the entry point shared by cmd/fakeshard and test helper processes.
// It returns the process exit code.
func Main(args []string) int {
	opts, err := ParseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fakeshard:", err)
		return 2
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	logger.Info("fakeshard starting", "port", opts.Port, "grpc_port", opts.GRPCPort, "state", opts.State, "pid", os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := New(opts).Run(ctx); err != nil {
		logger.Error("fakeshard failed", "error", err)
		return 1
	}
	logger.Info("fakeshard exiting")
	return 0
}
