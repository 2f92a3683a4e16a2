package mapview

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerFires(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var fired int32
	d.Schedule("k", 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	assert.True(t, d.Pending("k"))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&fired) == 1 })
	assert.False(t, d.Pending("k"))
}

func TestDebouncerRescheduleResets(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var first, second int32
	d.Schedule("k", 150*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	time.Sleep(50 * time.Millisecond)
	d.Schedule("k", 150*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&second) == 1 })
	assert.Equal(t, int32(0), atomic.LoadInt32(&first), "replaced callback must never run")
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var a, b int32
	d.Schedule("a", 20*time.Millisecond, func() { atomic.AddInt32(&a, 1) })
	d.Schedule("b", 20*time.Millisecond, func() { atomic.AddInt32(&b, 1) })

	waitFor(t, time.Second, func() bool {
		return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1
	})
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var fired int32
	d.Schedule("k", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	d.Cancel("k")

	assert.False(t, d.Pending("k"))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestDebouncerCancelAll(t *testing.T) {
	d := NewDebouncer()

	var fired int32
	d.Schedule("a", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	d.Schedule("b", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	d.CancelAll()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.False(t, d.Pending("a"))
	assert.False(t, d.Pending("b"))
}
