package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4)

	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.Equal(t, 3, r.Len())
}

func TestRingBufferClear(t *testing.T) {
	r := NewRingBuffer[string](4)
	r.Push("a")
	r.Push("b")
	r.Clear()
	r.Push("c")

	assert.Equal(t, []string{"c"}, r.Items())
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	r := NewRingBuffer[int](0)
	for i := 0; i < DefaultCapacity+10; i++ {
		r.Push(i)
	}
	assert.Equal(t, DefaultCapacity, r.Len())
	items := r.Items()
	assert.Equal(t, 10, items[0])
}
