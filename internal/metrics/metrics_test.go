package metrics

import (
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Register is process-wide, so every test shares one registry.
var testReg = prometheus.NewRegistry()

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := testReg
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncSpawnAttempt("shard-0")
	IncSpawnAttempt("shard-0")
	IncStartupFailure("shard-0")
	IncHealthy("router")
	IncTermination("router", "graceful")
	ObserveStartupDuration("router", 1.25)
	RecordStateTransition("router", "starting", "healthy")
	IncMalformedStatus("127.0.0.1:1")
	SetRunning(2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"fixturectl_process_spawn_attempts_total":     false,
		"fixturectl_process_startup_failures_total":   false,
		"fixturectl_process_healthy_total":            false,
		"fixturectl_process_terminations_total":       false,
		"fixturectl_process_startup_duration_seconds": false,
		"fixturectl_process_state_transitions_total":  false,
		"fixturectl_health_malformed_total":           false,
		"fixturectl_running_processes":                false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for name, found := range want {
		assert.True(t, found, "metric %s not gathered", name)
	}
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := testReg
	require.NoError(t, Register(reg))
	SetRunning(1)

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "fixturectl_running_processes"))
}

func TestSampleResourcesSelf(t *testing.T) {
	r, err := SampleResources(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), r.PID)
	assert.Greater(t, r.MemoryRSS, uint64(0))

	_, err = SampleResources(0)
	assert.Error(t, err)
}
