package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, body string, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPath {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestFetchAvailable(t *testing.T) {
	addr := serve(t, `{"TabletStateName":"SERVING","BinlogPlayerMapSize":3,"Healthy":true}`, http.StatusOK)
	s := NewPoller(nil).Fetch(context.Background(), addr)
	require.True(t, s.OK())

	state, ok := s.String("TabletStateName")
	assert.True(t, ok)
	assert.Equal(t, "SERVING", state)

	n, ok := s.Number("BinlogPlayerMapSize")
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)

	h, ok := s.String("Healthy")
	assert.True(t, ok)
	assert.Equal(t, "true", h)

	_, ok = s.String("Missing")
	assert.False(t, ok)
}

func TestFetchUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	s := NewPoller(nil).Fetch(context.Background(), addr)
	assert.Equal(t, Unavailable, s.Availability)
	assert.Nil(t, s.Err)

	s = NewPoller(nil).Fetch(context.Background(), serve(t, "oops", http.StatusServiceUnavailable))
	assert.Equal(t, Unavailable, s.Availability)
}

func TestFetchMalformedIsDistinct(t *testing.T) {
	for _, body := range []string{"<html>not vars</html>", "[1,2,3]", "null"} {
		s := NewPoller(nil).Fetch(context.Background(), serve(t, body, http.StatusOK))
		assert.Equal(t, Malformed, s.Availability, body)
		var merr *MalformedStatusError
		require.True(t, errors.As(s.Err, &merr), body)
		assert.NotEmpty(t, merr.Addr)
		assert.False(t, s.OK())
	}
}

func TestMatchStringIsAnchored(t *testing.T) {
	pred, err := MatchString("SERVING")
	require.NoError(t, err)

	s := Snapshot{Availability: Available, Vars: map[string]any{"TabletStateName": "NOT_SERVING"}}
	ok, observed, present := pred(s, "TabletStateName")
	assert.False(t, ok)
	assert.True(t, present)
	assert.Equal(t, "NOT_SERVING", observed)

	s.Vars["TabletStateName"] = "SERVING"
	ok, _, _ = pred(s, "TabletStateName")
	assert.True(t, ok)

	alt, err := MatchString("SERVING|DEGRADED")
	require.NoError(t, err)
	s.Vars["TabletStateName"] = "DEGRADED"
	ok, _, _ = alt(s, "TabletStateName")
	assert.True(t, ok)

	_, _, present = pred(s, "Other")
	assert.False(t, present)

	_, err = MatchString("(")
	assert.Error(t, err)
}

func TestEqualNumber(t *testing.T) {
	addr := serve(t, `{"BinlogPlayerMapSize":2,"Name":"x"}`, http.StatusOK)
	s := NewPoller(nil).Fetch(context.Background(), addr)

	ok, observed, present := EqualNumber(2)(s, "BinlogPlayerMapSize")
	assert.True(t, ok)
	assert.True(t, present)
	assert.Equal(t, "2", observed)

	ok, _, _ = EqualNumber(3)(s, "BinlogPlayerMapSize")
	assert.False(t, ok)

	ok, observed, present = EqualNumber(1)(s, "Name")
	assert.False(t, ok)
	assert.True(t, present)
	assert.Equal(t, "x", observed)
}

func TestAvailabilityString(t *testing.T) {
	assert.Equal(t, "available", Available.String())
	assert.Equal(t, "malformed", Malformed.String())
	assert.Equal(t, "unavailable", Unavailable.String())
}
