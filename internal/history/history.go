// Package history records fixture lifecycle events to an external journal so
// flaky test infrastructure can be investigated after the fact.
package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawn         EventType = "spawn"
	EventAttemptFailed EventType = "attempt_failed"
	EventHealthy       EventType = "healthy"
	EventFailed        EventType = "failed"
	EventStop          EventType = "stop"
	EventLeak          EventType = "leak"
)

// Event is one lifecycle milestone of one supervised process.
type Event struct {
	RunID      string    `json:"run_id"`
	Type       EventType `json:"type"`
	Name       string    `json:"name"`
	Alias      string    `json:"alias"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurred_at"`
	Err        string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }

// Multi sends each event to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NullString maps an empty string to a SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
