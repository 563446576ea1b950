package dialer

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestManualScheduler_RunsInDueOrder(t *testing.T) {
	s := NewManualScheduler(testStart)
	var got []string

	s.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	s.AfterFunc(time.Second, func() { got = append(got, "a") })
	s.AfterFunc(2*time.Second, func() { got = append(got, "c") })

	s.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 2, s.Pending())

	s.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, testStart.Add(2500*time.Millisecond), s.Now())
}

func TestManualScheduler_ClockDuringTask(t *testing.T) {
	s := NewManualScheduler(testStart)
	var at time.Time
	s.AfterFunc(time.Second, func() { at = s.Now() })

	s.Advance(time.Minute)

	assert.Equal(t, testStart.Add(time.Second), at)
}

func TestManualScheduler_ChainedTasks(t *testing.T) {
	s := NewManualScheduler(testStart)
	var got []int

	s.AfterFunc(time.Second, func() {
		got = append(got, 1)
		s.AfterFunc(time.Second, func() { got = append(got, 2) })
		s.AfterFunc(time.Hour, func() { got = append(got, 3) })
	})

	s.Advance(3 * time.Second)

	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 1, s.Pending())
}

func TestManualScheduler_Stop(t *testing.T) {
	s := NewManualScheduler(testStart)
	ran := false
	timer := s.AfterFunc(time.Second, func() { ran = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	s.Advance(time.Minute)
	assert.False(t, ran)
	assert.Zero(t, s.Pending())
}

func TestRealScheduler(t *testing.T) {
	done := make(chan struct{})
	RealScheduler{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	id := uuid.New()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(id)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size(), "idle entries are dropped")
}
