package splits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/mysql-cdc/lib/mysql"
)

// fakeKeyCursor serves deterministic key sequences without SQL.
type fakeKeyCursor struct {
	keys []int64
}

func (f *fakeKeyCursor) Stats(_ context.Context) (SplitKey, SplitKey, int64, error) {
	if len(f.keys) == 0 {
		return nil, nil, 0, nil
	}
	return SplitKey{f.keys[0]}, SplitKey{f.keys[len(f.keys)-1]}, int64(len(f.keys)), nil
}

func (f *fakeKeyCursor) NextBoundary(_ context.Context, from SplitKey, chunkSize uint) (SplitKey, error) {
	var rest []int64
	for _, key := range f.keys {
		if from == nil || key > from[0].(int64) {
			rest = append(rest, key)
		}
	}

	if uint(len(rest)) < chunkSize {
		return nil, nil
	}
	return SplitKey{rest[chunkSize-1]}, nil
}

func testTable() mysql.Table {
	return mysql.Table{
		ID: mysql.NewTableID("db", "t"),
		Columns: []mysql.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "v", DataType: "varchar"},
		},
		PrimaryKeys: []string{"id"},
	}
}

func planChunks(t *testing.T, keys []int64, chunkSize uint) []SnapshotSplit {
	planner, err := NewChunkPlanner(testTable(), chunkSize)
	require.NoError(t, err)

	planned, err := planner.Plan(context.Background(), &fakeKeyCursor{keys: keys})
	require.NoError(t, err)
	return planned
}

func TestChunkPlanner_DenseKeys(t *testing.T) {
	// ids 1..3, chunk size 2: dense fast path cuts at min+2.
	planned := planChunks(t, []int64{1, 2, 3}, 2)
	require.Len(t, planned, 2)

	assert.Nil(t, planned[0].Start)
	assert.Equal(t, SplitKey{int64(3)}, planned[0].End)
	assert.Equal(t, SplitKey{int64(3)}, planned[1].Start)
	assert.Nil(t, planned[1].End)

	assert.Equal(t, "db.t:0", planned[0].ID)
	assert.Equal(t, "db.t:1", planned[1].ID)
}

func TestChunkPlanner_SparseKeys(t *testing.T) {
	// Keys spread far beyond count * densityFactor fall back to boundary hunting.
	planned := planChunks(t, []int64{1, 500, 501, 9000}, 2)
	require.Len(t, planned, 2)

	assert.Nil(t, planned[0].Start)
	assert.Equal(t, SplitKey{int64(501)}, planned[0].End)
	assert.Equal(t, SplitKey{int64(501)}, planned[1].Start)
	assert.Nil(t, planned[1].End)
}

func TestChunkPlanner_EmptyTable(t *testing.T) {
	// An empty table still gets one all-covering chunk.
	planned := planChunks(t, nil, 8096)
	require.Len(t, planned, 1)
	assert.Nil(t, planned[0].Start)
	assert.Nil(t, planned[0].End)
}

func TestChunkPlanner_SingleChunk(t *testing.T) {
	planned := planChunks(t, []int64{10, 11, 12}, 100)
	require.Len(t, planned, 1)
	assert.Nil(t, planned[0].Start)
	assert.Nil(t, planned[0].End)
}

func TestChunkPlanner_Coverage(t *testing.T) {
	// Every key is covered by exactly one chunk, regardless of which path
	// planned the ranges.
	for _, keys := range [][]int64{
		{1, 2, 3, 4, 5, 6, 7},
		{1, 10, 100, 1000, 10_000, 100_000},
		{-50, -10, 0, 3, 9, 12},
	} {
		planned := planChunks(t, keys, 3)
		for _, key := range keys {
			var owners int
			for _, split := range planned {
				contains, err := split.Contains(SplitKey{key})
				require.NoError(t, err)
				if contains {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "key %d covered by %d chunks", key)
		}
	}
}

func TestChunkPlanner_AdjacentRanges(t *testing.T) {
	// Interior boundaries line up exactly: each chunk's end is the next
	// chunk's start.
	planned := planChunks(t, []int64{1, 10, 100, 1000, 10_000, 100_000}, 2)
	require.Greater(t, len(planned), 1)

	assert.Nil(t, planned[0].Start)
	assert.Nil(t, planned[len(planned)-1].End)
	for i := 1; i < len(planned); i++ {
		assert.Equal(t, planned[i-1].End, planned[i].Start)
	}
}

func TestNewChunkPlanner_Rejections(t *testing.T) {
	{
		table := testTable()
		table.PrimaryKeys = nil
		_, err := NewChunkPlanner(table, 10)
		assert.ErrorContains(t, err, "no primary key")
	}
	{
		table := testTable()
		table.Columns[0].DataType = "decimal"
		_, err := NewChunkPlanner(table, 10)
		assert.ErrorContains(t, err, "not supported as a split key")
	}
	{
		_, err := NewChunkPlanner(testTable(), 0)
		assert.ErrorContains(t, err, "chunk size must be positive")
	}
}
