package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifierEmitInOrder(t *testing.T) {
	n := NewNotifier[int]()

	var got []string
	n.On("tick", func(v int) { got = append(got, "a") })
	n.On("tick", func(v int) { got = append(got, "b") })

	n.Emit("tick", 1)

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestNotifierDisposerRemovesOnlyItself(t *testing.T) {
	n := NewNotifier[int]()

	var a, b int
	offA := n.On("tick", func(int) { a++ })
	n.On("tick", func(int) { b++ })

	offA()
	offA() // double dispose is harmless
	n.Emit("tick", 1)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestNotifierEventsAreIndependent(t *testing.T) {
	n := NewNotifier[string]()

	var tick, tock int
	n.On("tick", func(string) { tick++ })
	n.On("tock", func(string) { tock++ })

	n.Emit("tick", "x")

	assert.Equal(t, 1, tick)
	assert.Equal(t, 0, tock)
}

func TestNotifierDisposeDuringEmit(t *testing.T) {
	n := NewNotifier[int]()

	var off func()
	calls := 0
	off = n.On("tick", func(int) {
		calls++
		off()
	})

	n.Emit("tick", 1)
	n.Emit("tick", 2)

	assert.Equal(t, 1, calls)
}

func TestNotifierEmitWithoutListeners(t *testing.T) {
	n := NewNotifier[int]()
	assert.NotPanics(t, func() { n.Emit("tick", 1) })
}
