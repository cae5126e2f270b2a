package fakeshard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getVars(t *testing.T, h http.Handler) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	if rec.Code != http.StatusOK {
		return rec.Code, nil
	}
	var vars map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
	return rec.Code, vars
}

func TestParseFlags(t *testing.T) {
	o, err := ParseFlags([]string{"-port", "15001", "-log_dir", "/tmp/x", "-grpc_port", "15002", "-state", "NOT_SERVING", "-exit_after", "2s"})
	require.NoError(t, err)
	assert.Equal(t, 15001, o.Port)
	assert.Equal(t, 15002, o.GRPCPort)
	assert.Equal(t, "/tmp/x", o.LogDir)
	assert.Equal(t, "NOT_SERVING", o.State)
	assert.Equal(t, 2*time.Second, o.ExitAfter)

	_, err = ParseFlags([]string{"-log_dir", "/tmp"})
	assert.Error(t, err)
	_, err = ParseFlags([]string{"-port", "1", "-unknown"})
	assert.Error(t, err)
}

func TestVarsAndStateChange(t *testing.T) {
	s := New(Options{Port: 1, State: "SERVING", PlayerCount: 2})
	h := s.Handler()

	code, vars := getVars(t, h)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SERVING", vars["TabletStateName"])
	assert.EqualValues(t, 2, vars["BinlogPlayerMapSize"])

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/state?state=NOT_SERVING", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/binlog_players?count=0", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, vars = getVars(t, h)
	assert.Equal(t, "NOT_SERVING", vars["TabletStateName"])
	assert.EqualValues(t, 0, vars["BinlogPlayerMapSize"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/state", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/binlog_players?count=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadyAfterAndMalformed(t *testing.T) {
	code, _ := getVars(t, New(Options{Port: 1, ReadyAfter: time.Hour}).Handler())
	assert.Equal(t, http.StatusServiceUnavailable, code)

	rec := httptest.NewRecorder()
	New(Options{Port: 1, Malformed: true}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var v map[string]any
	assert.Error(t, json.Unmarshal(rec.Body.Bytes(), &v))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRunServesAndStops(t *testing.T) {
	port, rpc := freePort(t), freePort(t)
	s := New(Options{Port: port, GRPCPort: rpc, State: "SERVING"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", rpc))
	require.NoError(t, err)
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunExitAfter(t *testing.T) {
	s := New(Options{Port: freePort(t), ExitAfter: 50 * time.Millisecond})
	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMainBadFlags(t *testing.T) {
	assert.Equal(t, 2, Main([]string{"-nope"}))
}
