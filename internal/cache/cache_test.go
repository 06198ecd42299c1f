package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testItem struct {
	id       uint64
	deadline time.Time
	hasDL    bool
}

func (t testItem) ID() uint64 { return t.id }

func (t testItem) ExpiresAt() (time.Time, bool) { return t.deadline, t.hasDL }

func TestInsertAndSize(t *testing.T) {
	c := New()
	c.Insert(testItem{id: 1})
	c.Insert(testItem{id: 2})
	require.EqualValues(t, 2, c.Size())
}

func TestRemove(t *testing.T) {
	c := New()
	c.Insert(testItem{id: 1})
	item, ok := c.Remove(1)
	require.True(t, ok)
	require.EqualValues(t, 1, item.ID())
	require.EqualValues(t, 0, c.Size())

	_, ok = c.Remove(1)
	require.False(t, ok)
}

func TestTwoPhaseRemoveKeepsSizeUntilEndRemove(t *testing.T) {
	c := New()
	c.Insert(testItem{id: 1})

	item, ok := c.BeginRemove(1)
	require.True(t, ok)
	require.NotNil(t, item)
	require.EqualValues(t, 1, c.Size(), "size must stay counted until EndRemove")

	c.EndRemove()
	require.EqualValues(t, 0, c.Size())
}

func TestExpiredIDs(t *testing.T) {
	c := New()
	past := time.Now().Add(-time.Second)
	future := time.Now().Add(time.Hour)
	c.Insert(testItem{id: 1, deadline: past, hasDL: true})
	c.Insert(testItem{id: 2, deadline: future, hasDL: true})
	c.Insert(testItem{id: 3}) // infinite timeout

	ids := c.ExpiredIDs(time.Now())
	require.ElementsMatch(t, []uint64{1}, ids)
}

func TestDrainWaitsForZero(t *testing.T) {
	c := New()
	c.Insert(testItem{id: 1})

	done := make(chan bool, 1)
	go func() { done <- c.Drain(time.Second) }()

	time.Sleep(20 * time.Millisecond)
	c.Remove(1)

	require.True(t, <-done)
}

func TestDrainTimesOut(t *testing.T) {
	c := New()
	c.Insert(testItem{id: 1})
	require.False(t, c.Drain(20*time.Millisecond))
}

func TestAll(t *testing.T) {
	c := New()
	c.Insert(testItem{id: 1})
	c.Insert(testItem{id: 2})
	require.Len(t, c.All(), 2)
}
