package iterator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceIterator(t *testing.T) {
	{
		// No items.
		iter := FromSlice([]string{})
		assert.False(t, iter.HasNext())
		_, err := iter.Next()
		assert.ErrorContains(t, err, "iterator has finished")
	}
	{
		iter := FromSlice([]string{"a", "b"})
		assert.True(t, iter.HasNext())

		item, err := iter.Next()
		assert.NoError(t, err)
		assert.Equal(t, "a", item)

		item, err = iter.Next()
		assert.NoError(t, err)
		assert.Equal(t, "b", item)

		assert.False(t, iter.HasNext())
	}
}

func TestOnce(t *testing.T) {
	iter := Once([]int{1, 2})
	assert.True(t, iter.HasNext())

	item, err := iter.Next()
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, item)
	assert.False(t, iter.HasNext())
}
