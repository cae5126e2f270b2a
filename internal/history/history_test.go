package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestMultiFansOut(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	m := Multi{a, b}
	err := m.Send(context.Background(), Event{Type: EventSpawn, Name: "shard-0"})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	assert.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	assert.NoError(t, s.Send(context.Background(), Event{}))
	assert.NoError(t, s.Close())
}

func TestNullString(t *testing.T) {
	assert.Nil(t, NullString(""))
	assert.Equal(t, "x", NullString("x"))
}
