package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCleanAndLeak(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Check("TestA"))

	r.Inc("shard-0")
	r.Inc("router")
	err := r.Check("TestA")
	var le *LeakError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "TestA", le.Test)
	assert.Equal(t, 2, le.Running)
	assert.ErrorIs(t, err, ErrLeak)
	assert.Contains(t, err.Error(), "TestA")

	r.Dec("shard-0")
	r.Dec("router")
	assert.NoError(t, r.Check("TestA"))
}

func TestConcurrentIncDec(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Inc("p")
			r.Dec("p")
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Running())
}

func TestDecWithoutIncPanics(t *testing.T) {
	r := New(nil)
	assert.Panics(t, func() { r.Dec("ghost") })
}
