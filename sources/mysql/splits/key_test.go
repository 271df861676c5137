package splits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForDataType(t *testing.T) {
	{
		kind, err := KindForDataType("bigint")
		assert.NoError(t, err)
		assert.Equal(t, KeyKindInt, kind)
		assert.True(t, kind.IsNumeric())
	}
	{
		kind, err := KindForDataType("VARCHAR")
		assert.NoError(t, err)
		assert.Equal(t, KeyKindString, kind)
		assert.False(t, kind.IsNumeric())
	}
	{
		kind, err := KindForDataType("varbinary")
		assert.NoError(t, err)
		assert.Equal(t, KeyKindBytes, kind)
	}
	{
		// Key-type policy is explicit: unsupported types are rejected at
		// planning time rather than falling back to string comparison.
		_, err := KindForDataType("decimal")
		assert.ErrorContains(t, err, "not supported as a split key")

		_, err = KindForDataType("json")
		assert.ErrorContains(t, err, "not supported as a split key")
	}
}

func TestCoerceValue(t *testing.T) {
	{
		// The driver returns int64 or []byte depending on the wire path.
		value, err := CoerceValue(KeyKindInt, int64(42))
		assert.NoError(t, err)
		assert.Equal(t, int64(42), value)

		value, err = CoerceValue(KeyKindInt, []byte("42"))
		assert.NoError(t, err)
		assert.Equal(t, int64(42), value)

		value, err = CoerceValue(KeyKindInt, int32(7))
		assert.NoError(t, err)
		assert.Equal(t, int64(7), value)
	}
	{
		value, err := CoerceValue(KeyKindUint, uint32(9))
		assert.NoError(t, err)
		assert.Equal(t, uint64(9), value)

		_, err = CoerceValue(KeyKindUint, int64(-1))
		assert.ErrorContains(t, err, "negative value")
	}
	{
		value, err := CoerceValue(KeyKindString, []byte("abc"))
		assert.NoError(t, err)
		assert.Equal(t, "abc", value)
	}
	{
		_, err := CoerceValue(KeyKindInt, 3.14)
		assert.ErrorContains(t, err, "cannot coerce")
	}
}

func TestCompareKeys(t *testing.T) {
	intCols := []KeyColumn{{Name: "id", Kind: KeyKindInt}}
	{
		result, err := CompareKeys(intCols, SplitKey{int64(1)}, SplitKey{int64(2)})
		assert.NoError(t, err)
		assert.Equal(t, -1, result)

		result, err = CompareKeys(intCols, SplitKey{int64(2)}, SplitKey{int64(2)})
		assert.NoError(t, err)
		assert.Equal(t, 0, result)
	}
	{
		strCols := []KeyColumn{{Name: "code", Kind: KeyKindString}}
		result, err := CompareKeys(strCols, SplitKey{"abc"}, SplitKey{"abd"})
		assert.NoError(t, err)
		assert.Equal(t, -1, result)
	}
	{
		bytesCols := []KeyColumn{{Name: "uid", Kind: KeyKindBytes}}
		result, err := CompareKeys(bytesCols, SplitKey{[]byte{0x01}}, SplitKey{[]byte{0x01, 0x00}})
		assert.NoError(t, err)
		assert.Equal(t, -1, result)
	}
	{
		// Non-canonical values are a programming error, not a silent string compare.
		_, err := CompareKeys(intCols, SplitKey{"1"}, SplitKey{int64(2)})
		assert.ErrorContains(t, err, "int key compared against")
	}
}

func TestSnapshotSplit_Contains(t *testing.T) {
	columns := []KeyColumn{{Name: "id", Kind: KeyKindInt}}
	contains := func(split SnapshotSplit, id int64) bool {
		result, err := split.Contains(SplitKey{id})
		assert.NoError(t, err)
		return result
	}

	{
		// First chunk: unbounded below.
		split := SnapshotSplit{KeyColumns: columns, End: SplitKey{int64(3)}}
		assert.True(t, contains(split, -100))
		assert.True(t, contains(split, 2))
		assert.False(t, contains(split, 3))
	}
	{
		// Interior chunk: [start, end).
		split := SnapshotSplit{KeyColumns: columns, Start: SplitKey{int64(3)}, End: SplitKey{int64(6)}}
		assert.False(t, contains(split, 2))
		assert.True(t, contains(split, 3))
		assert.True(t, contains(split, 5))
		assert.False(t, contains(split, 6))
	}
	{
		// Last chunk: unbounded above.
		split := SnapshotSplit{KeyColumns: columns, Start: SplitKey{int64(6)}}
		assert.False(t, contains(split, 5))
		assert.True(t, contains(split, 6))
		assert.True(t, contains(split, 1<<40))
	}
	{
		// Single chunk over the whole table.
		split := SnapshotSplit{KeyColumns: columns}
		assert.True(t, contains(split, -1))
		assert.True(t, contains(split, 1))
	}
}
