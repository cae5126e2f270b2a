// Package fixturetest ties a fixture's lifetime to a test.
package fixturetest

import (
	"context"
	"testing"

	"github.com/loykin/fixturectl/internal/fixture"
	"github.com/loykin/fixturectl/internal/process"
)

// TB is the subset of testing.TB used here.
type TB interface {
	Helper()
	Name() string
	Cleanup(func())
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

var _ TB = (testing.TB)(nil)

// Start brings sup up and registers a cleanup that stops every member and
// fails the test if any process is still running afterwards.
func Start(t TB, sup *fixture.Supervisor) {
	t.Helper()
	t.Cleanup(func() { Teardown(t, sup) })
	if err := sup.Up(context.Background()); err != nil {
		t.Fatalf("fixture did not come up: %v", err)
	}
}

// Teardown stops sup gracefully and runs the leak check.
func Teardown(t TB, sup *fixture.Supervisor) {
	t.Helper()
	if err := sup.Down(context.Background(), process.Graceful); err != nil {
		t.Errorf("fixture teardown: %v", err)
	}
	if err := sup.Check(t.Name()); err != nil {
		t.Errorf("%v", err)
	}
	if err := sup.Close(); err != nil {
		t.Errorf("close history: %v", err)
	}
}
