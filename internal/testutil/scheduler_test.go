package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeScheduler_FiresOnlyWhenDue(t *testing.T) {
	s := NewFakeScheduler()
	fired := 0
	s.AfterFunc(100*time.Millisecond, func() { fired++ })

	assert.Equal(t, 0, s.Advance(99*time.Millisecond))
	assert.Equal(t, 0, fired)

	assert.Equal(t, 1, s.Advance(time.Millisecond))
	assert.Equal(t, 1, fired)
	assert.Equal(t, FakeEpoch.Add(100*time.Millisecond), s.Now())
}

func TestFakeScheduler_OrderByDueThenCreation(t *testing.T) {
	s := NewFakeScheduler()
	var order []string
	s.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })
	s.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	s.AfterFunc(20*time.Millisecond, func() { order = append(order, "c") })

	s.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFakeScheduler_ClockAtDueTimeInsideCallback(t *testing.T) {
	s := NewFakeScheduler()
	var seen time.Time
	s.AfterFunc(30*time.Millisecond, func() { seen = s.Now() })

	s.Advance(time.Second)
	assert.Equal(t, FakeEpoch.Add(30*time.Millisecond), seen)
	assert.Equal(t, FakeEpoch.Add(time.Second), s.Now())
}

func TestFakeScheduler_NestedScheduleWithinWindow(t *testing.T) {
	s := NewFakeScheduler()
	var order []string
	s.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "outer")
		s.AfterFunc(10*time.Millisecond, func() { order = append(order, "inner") })
	})

	assert.Equal(t, 2, s.Advance(25*time.Millisecond))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestFakeScheduler_Stop(t *testing.T) {
	s := NewFakeScheduler()
	fired := false
	timer := s.AfterFunc(time.Millisecond, func() { fired = true })

	require.Equal(t, 1, s.Pending())
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 0, s.Pending())

	s.Advance(time.Second)
	assert.False(t, fired)
}

func TestFakeScheduler_AdvanceWithSettlesAtEachDueTime(t *testing.T) {
	s := NewFakeScheduler()
	var posted []func()
	var firedAt []time.Duration

	var tick func()
	tick = func() {
		firedAt = append(firedAt, s.Now().Sub(FakeEpoch))
		s.AfterFunc(time.Second, func() { posted = append(posted, tick) })
	}
	s.AfterFunc(time.Second, func() { posted = append(posted, tick) })

	settle := func() {
		for len(posted) > 0 {
			f := posted[0]
			posted = posted[1:]
			f()
		}
	}

	assert.Equal(t, 3, s.AdvanceWith(3*time.Second, settle))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, firedAt)
	assert.Equal(t, FakeEpoch.Add(3*time.Second), s.Now())
	assert.Equal(t, 1, s.Pending())
}
