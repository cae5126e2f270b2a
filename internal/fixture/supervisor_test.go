package fixture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fixturectl/internal/fakeshard"
	"github.com/loykin/fixturectl/internal/history"
	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/process"
	"github.com/loykin/fixturectl/internal/registry"
)

const helperEnv = "FIXTURECTL_TEST_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "fakeshard":
		os.Exit(fakeshard.Main(os.Args[1:]))
	case "exit":
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func newSupervisor(t *testing.T, parallel bool, sink history.Sink) *Supervisor {
	t.Helper()
	return New(Options{
		RunID:    "run-" + t.Name(),
		LogDir:   t.TempDir(),
		Host:     "127.0.0.1",
		Ports:    ports.Options{Base: 30000 + os.Getpid()%20000, Probe: true, Host: "127.0.0.1"},
		Parallel: parallel,
		Env:      []string{helperEnv + "=fakeshard"},
		History:  sink,
	})
}

func shard(name string, args ...string) process.Config {
	return process.Config{
		Name:              name,
		Binary:            os.Args[0],
		Args:              args,
		RPC:               true,
		StartRetries:      2,
		StartTimeout:      10 * time.Second,
		StartPollInterval: 20 * time.Millisecond,
		StatePollInterval: 20 * time.Millisecond,
		WaitState:         "SERVING",
	}
}

func TestUpDownSequential(t *testing.T) {
	sink := &memSink{}
	sup := newSupervisor(t, false, sink)
	_, err := sup.Add(shard("shard-0"))
	require.NoError(t, err)
	_, err = sup.Add(shard("shard-1"))
	require.NoError(t, err)

	_, err = sup.Add(shard("shard-0"))
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, sup.Up(context.Background()))
	assert.Equal(t, 2, sup.Registry().Running())
	assert.ErrorIs(t, sup.Check("TestUpDownSequential"), registry.ErrLeak)

	m := sup.Manifest()
	assert.Equal(t, "run-TestUpDownSequential", m.RunID)
	require.Len(t, m.Members, 2)
	assert.NotEqual(t, m.Members["shard-0"].Port, m.Members["shard-1"].Port)
	assert.NotEmpty(t, m.Members["shard-1"].RPCAddr)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, m, back)

	sts, err := sup.StatusMatch("shard-*")
	require.NoError(t, err)
	assert.Len(t, sts, 2)
	_, err = sup.StatusMatch("[")
	assert.Error(t, err)

	require.NoError(t, sup.Down(context.Background(), process.Graceful))
	require.NoError(t, sup.Down(context.Background(), process.Graceful))
	assert.NoError(t, sup.Check("TestUpDownSequential"))
	for _, st := range sup.Status() {
		assert.Equal(t, process.Stopped, st.State)
	}

	types := sink.types()
	assert.Contains(t, types, history.EventSpawn)
	assert.Contains(t, types, history.EventHealthy)
	assert.Contains(t, types, history.EventStop)
	assert.Contains(t, types, history.EventLeak)
	for _, e := range sink.events {
		assert.Equal(t, "run-TestUpDownSequential", e.RunID)
	}
}

func TestUpParallel(t *testing.T) {
	sup := newSupervisor(t, true, nil)
	for _, n := range []string{"a", "b", "c"} {
		_, err := sup.Add(shard(n))
		require.NoError(t, err)
	}
	require.NoError(t, sup.Up(context.Background()))
	assert.Equal(t, 3, sup.Registry().Running())
	require.NoError(t, sup.Down(context.Background(), process.Forced))
	assert.NoError(t, sup.Check(t.Name()))
}

func TestUpFailureTearsDown(t *testing.T) {
	sup := newSupervisor(t, false, nil)
	_, err := sup.Add(shard("healthy"))
	require.NoError(t, err)
	bad := shard("never-serving", "-state", "NOT_SERVING")
	bad.StateTimeout = 200 * time.Millisecond
	_, err = sup.Add(bad)
	require.NoError(t, err)

	err = sup.Up(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "NOT_SERVING")
	assert.Equal(t, 0, sup.Registry().Running())
	assert.NoError(t, sup.Check(t.Name()))

	p, err := sup.Member("healthy")
	require.NoError(t, err)
	assert.Equal(t, process.Stopped, p.State())
}

func TestStopSingleMember(t *testing.T) {
	sup := newSupervisor(t, false, nil)
	_, err := sup.Add(shard("one"))
	require.NoError(t, err)
	require.NoError(t, sup.Up(context.Background()))

	assert.ErrorIs(t, sup.Stop(context.Background(), "missing", process.Graceful), ErrNotFound)
	require.NoError(t, sup.Stop(context.Background(), "one", process.Graceful))
	assert.NoError(t, sup.Check(t.Name()))
}

func TestAddAppliesRunDefaults(t *testing.T) {
	sup := New(Options{LogDir: "/var/tmp/fx", Host: "db.local"})
	p, err := sup.Add(process.Config{Name: "x", Binary: "/bin/true"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/tmp/fx", "x"), p.Config().LogDir)
	assert.Equal(t, "db.local", p.Host())
	assert.NotEmpty(t, sup.RunID())

	_, err = sup.Add(process.Config{Name: "y"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicate))
}
