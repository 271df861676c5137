package iterator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingIterator struct{}

func (f *failingIterator) HasNext() bool {
	return true
}

func (f *failingIterator) Next() (int, error) {
	return 0, fmt.Errorf("---==[ ERROR ]==---")
}

func TestCollect(t *testing.T) {
	{
		// Empty iterator.
		items, err := Collect(FromSlice([]int{}))
		assert.NoError(t, err)
		assert.Empty(t, items)
	}
	{
		// Non-empty iterator.
		items, err := Collect(FromSlice([]int{1, 2, 3, 4}))
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4}, items)
	}
	{
		// An iterator that returns an error.
		_, err := Collect[int](&failingIterator{})
		assert.ErrorContains(t, err, "---==[ ERROR ]==---")
	}
}
