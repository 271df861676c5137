package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

var testTableID = mysql.NewTableID("db", "t")

// firstChunk covers (-inf, 3).
func firstChunk() splits.SnapshotSplit {
	return splits.SnapshotSplit{
		ID:         "db.t:0",
		Table:      testTableID,
		KeyColumns: []splits.KeyColumn{{Name: "id", Kind: splits.KeyKindInt}},
		End:        splits.SplitKey{int64(3)},
	}
}

func lowWatermark(pos int64) records.Watermark {
	return records.Watermark{Kind: records.WatermarkLow, SplitID: "db.t:0", Offset: mysql.NewBinlogOffset("mysql-bin.000001", pos)}
}

func highWatermark(pos int64) records.Watermark {
	return records.Watermark{Kind: records.WatermarkHigh, SplitID: "db.t:0", Offset: mysql.NewBinlogOffset("mysql-bin.000001", pos)}
}

func endWatermark(pos int64) records.Watermark {
	return records.Watermark{Kind: records.WatermarkEnd, SplitID: "db.t:0", Offset: mysql.NewBinlogOffset("mysql-bin.000001", pos)}
}

func snapshotRead(id int64, v string) records.Record {
	return records.Record{Op: records.OpRead, Table: testTableID, After: map[string]any{"id": id, "v": v}}
}

func logRecord(op records.Op, id int64, before, after map[string]any, pos int64) records.Record {
	return records.Record{
		Op:     op,
		Table:  testTableID,
		Before: before,
		After:  after,
		Pos:    mysql.NewBinlogOffset("mysql-bin.000001", pos),
		TsMs:   1700000000000,
	}
}

func TestNormalize_NoConcurrentWrites(t *testing.T) {
	// The trivial case: an untouched chunk normalizes to its own reads.
	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		snapshotRead(2, "b"),
		highWatermark(100),
		endWatermark(100),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 4)
	assert.Equal(t, lowWatermark(100), output[0])
	assert.Equal(t, snapshotRead(1, "a"), output[1])
	assert.Equal(t, snapshotRead(2, "b"), output[2])
	assert.Equal(t, highWatermark(100), output[3])
}

func TestNormalize_ConcurrentUpdate(t *testing.T) {
	// id=1 was updated to a' inside the watermark window; the chunk must
	// report the after image, never the stale snapshot row.
	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		snapshotRead(2, "b"),
		highWatermark(300),
		logRecord(records.OpUpdate, 1,
			map[string]any{"id": int64(1), "v": "a"},
			map[string]any{"id": int64(1), "v": "a'"},
			250,
		),
		endWatermark(300),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 4)

	// The update surfaces as a synthetic read carrying the after image and the
	// source timestamp.
	synthetic, isOk := output[1].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, records.OpRead, synthetic.Op)
	assert.Equal(t, "a'", synthetic.After["v"])
	assert.Equal(t, int64(1700000000000), synthetic.TsMs)

	// Only id=2 remains from the raw snapshot.
	remaining, isOk := output[2].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, int64(2), remaining.After["id"])
}

func TestNormalize_ConcurrentDelete(t *testing.T) {
	// id=2 was deleted inside the window: the chunk output carries no record
	// for it at all.
	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		snapshotRead(2, "b"),
		highWatermark(300),
		logRecord(records.OpDelete, 2, map[string]any{"id": int64(2), "v": "b"}, nil, 200),
		endWatermark(300),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 3)
	assert.Equal(t, snapshotRead(1, "a"), output[1])
}

func TestNormalize_ConcurrentInsert(t *testing.T) {
	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		highWatermark(300),
		logRecord(records.OpCreate, 2, nil, map[string]any{"id": int64(2), "v": "b"}, 200),
		endWatermark(300),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 4)

	created, isOk := output[1].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, records.OpCreate, created.Op)
	assert.Equal(t, int64(2), created.After["id"])
}

func TestNormalize_InsertBeyondChunkRange(t *testing.T) {
	// id=4 is outside (-inf, 3): the range filter drops it from this chunk and
	// the binlog phase will deliver it instead.
	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		snapshotRead(2, "b"),
		highWatermark(300),
		logRecord(records.OpCreate, 4, nil, map[string]any{"id": int64(4), "v": "d"}, 200),
		endWatermark(300),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 4)
	assert.Equal(t, snapshotRead(1, "a"), output[1])
	assert.Equal(t, snapshotRead(2, "b"), output[2])
}

func TestNormalize_InsertSeenByBothSelectAndLog(t *testing.T) {
	// A row inserted mid-select can be observed by the select and by the log
	// slice. The log event wins; the chunk emits the row once.
	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		snapshotRead(2, "b"),
		highWatermark(300),
		logRecord(records.OpCreate, 2, nil, map[string]any{"id": int64(2), "v": "b"}, 200),
		endWatermark(300),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 4)

	created, isOk := output[1].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, records.OpCreate, created.Op)

	remaining, isOk := output[2].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, int64(1), remaining.After["id"])
}

func TestNormalize_OtherTableFiltered(t *testing.T) {
	other := logRecord(records.OpCreate, 1, nil, map[string]any{"id": int64(1), "v": "x"}, 200)
	other.Table = mysql.NewTableID("db", "other")

	buffer := []records.Event{
		lowWatermark(100),
		snapshotRead(1, "a"),
		highWatermark(300),
		other,
		endWatermark(300),
	}

	output, err := Normalize(firstChunk(), buffer)
	require.NoError(t, err)
	require.Len(t, output, 3)
}

func TestNormalize_Failures(t *testing.T) {
	{
		// Deleting a key the chunk never saw is an inconsistency.
		buffer := []records.Event{
			lowWatermark(100),
			snapshotRead(1, "a"),
			highWatermark(300),
			logRecord(records.OpDelete, 2, map[string]any{"id": int64(2), "v": "b"}, nil, 200),
			endWatermark(300),
		}
		_, err := Normalize(firstChunk(), buffer)
		assert.ErrorContains(t, err, "does not match any snapshot row")
	}
	{
		// Read operations cannot appear in the log slice.
		buffer := []records.Event{
			lowWatermark(100),
			highWatermark(300),
			logRecord(records.OpRead, 1, nil, map[string]any{"id": int64(1), "v": "a"}, 200),
			endWatermark(300),
		}
		_, err := Normalize(firstChunk(), buffer)
		assert.ErrorContains(t, err, "read record in the log slice")
	}
	{
		// Missing low watermark.
		buffer := []records.Event{
			snapshotRead(1, "a"),
			highWatermark(300),
			endWatermark(300),
		}
		_, err := Normalize(firstChunk(), buffer)
		assert.ErrorContains(t, err, "does not start with a low watermark")
	}
	{
		// Missing high watermark.
		buffer := []records.Event{
			lowWatermark(100),
			snapshotRead(1, "a"),
		}
		_, err := Normalize(firstChunk(), buffer)
		assert.ErrorContains(t, err, "no high watermark")
	}
	{
		// Missing end watermark.
		buffer := []records.Event{
			lowWatermark(100),
			highWatermark(300),
		}
		_, err := Normalize(firstChunk(), buffer)
		assert.ErrorContains(t, err, "no end watermark")
	}
	{
		// Watermarks out of order.
		buffer := []records.Event{
			lowWatermark(300),
			highWatermark(100),
			endWatermark(100),
		}
		_, err := Normalize(firstChunk(), buffer)
		assert.ErrorContains(t, err, "precedes low watermark")
	}
}
