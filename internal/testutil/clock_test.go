package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockStepsPerReading(t *testing.T) {
	c := NewClock(Epoch, time.Second)

	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
}

func TestClockFrozenUntilAdvance(t *testing.T) {
	c := NewClock(Epoch, 0)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch, c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), c.Now())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
}

func TestClockConcurrentReadsAreDistinct(t *testing.T) {
	c := NewClock(Epoch, time.Millisecond)

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := c.Now()
			mu.Lock()
			seen[now] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}
