package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/loykin/fixturectl"
	"github.com/loykin/fixturectl/internal/logger"
	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/waiter"
	"github.com/loykin/fixturectl/pkg/client"
)

// apiBasePath is where fixturectl up mounts the control API.
const apiBasePath = "/api"

// command holds the streams the subcommands talk through.
type command struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	// apiReady, when set, receives the control API address once it is serving.
	apiReady func(addr string)
}

func newCommand() command {
	return command{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
}

// Up brings a fixture up, prints its manifest and holds it until released.
func (c command) Up(ctx context.Context, f UpFlags) error {
	file, err := fixturectl.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.APIListen != "" {
		file.Run.APIListen = f.APIListen
	}
	log, closer, err := logger.New(file.Log, c.errOut)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if len(file.Processes) == 0 {
		return errors.New("fixture defines no processes")
	}
	if err := fixturectl.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	sup, err := fixturectl.NewFromConfig(file, log, f.RunID)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	if err := sup.Up(ctx); err != nil {
		return errors.Join(err, sup.Check(f.LeakCheck))
	}
	if _, err := sup.Manifest().WriteTo(c.out); err != nil {
		log.Warn("write manifest", "error", err)
	}

	if addr := file.Run.APIListen; addr != "" {
		srv, err := fixturectl.NewHTTPServer(addr, apiBasePath, sup)
		if err != nil {
			downErr := sup.Down(context.WithoutCancel(ctx), fixturectl.Forced)
			return errors.Join(fmt.Errorf("control API: %w", err), downErr, sup.Check(f.LeakCheck))
		}
		log.Info("control API listening", "addr", srv.Addr, "base", apiBasePath)
		if c.apiReady != nil {
			c.apiReady(srv.Addr)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	c.waitForRelease(ctx, log)

	downErr := sup.Down(context.WithoutCancel(ctx), fixturectl.Graceful)
	return errors.Join(downErr, sup.Check(f.LeakCheck))
}

// waitForRelease blocks until a line is read from stdin or ctx is done.
// A closed stdin leaves only the signal path.
func (c command) waitForRelease(ctx context.Context, log *slog.Logger) {
	line := make(chan struct{})
	go func() {
		r := bufio.NewReader(c.in)
		if _, err := r.ReadString('\n'); err == nil {
			close(line)
		}
	}()
	log.Info("fixture is running; press enter or send SIGTERM to tear it down")
	select {
	case <-line:
	case <-ctx.Done():
	}
}

// Status prints statuses or the manifest of a running fixture.
func (c command) Status(ctx context.Context, f StatusFlags) error {
	cl := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	switch {
	case f.Manifest:
		m, err := cl.Manifest(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(m)
	case f.Name != "":
		st, err := cl.StatusOf(ctx, f.Name)
		if err != nil {
			return err
		}
		return c.printJSON(st)
	default:
		sts, err := cl.Status(ctx, f.Pattern)
		if err != nil {
			return err
		}
		return c.printJSON(sts)
	}
}

// Terminate stops one member of a running fixture.
func (c command) Terminate(ctx context.Context, f TerminateFlags) error {
	cl := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	if err := cl.Terminate(ctx, f.Name, f.Force); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.out, "terminated %s\n", f.Name)
	return err
}

// Ports prints Count free ports.
func (c command) Ports(f PortsFlags) error {
	if f.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", f.Count)
	}
	got, err := ports.New(ports.Options{Base: f.Base, Probe: f.Probe, Host: f.Host}).Reserve(f.Count)
	if err != nil {
		return err
	}
	for _, p := range got {
		if _, err := fmt.Fprintln(c.out, p); err != nil {
			return err
		}
	}
	return nil
}

// WaitFiles blocks until every path exists.
func (c command) WaitFiles(ctx context.Context, f WaitFilesFlags, paths []string) error {
	w := waiter.Waiter{
		Logger:       slog.New(logger.NewColorTextHandler(c.errOut, &slog.HandlerOptions{Level: slog.LevelWarn}, false)),
		FileInterval: f.Interval,
	}
	return w.WaitForFiles(ctx, f.Timeout, paths...)
}

func (c command) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
