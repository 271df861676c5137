package reader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

func testBinlogSplit(stop mysql.StopCondition) splits.BinlogSplit {
	return splits.BinlogSplit{
		ID:          splits.BinlogSplitID,
		KeyColumns:  []splits.KeyColumn{{Name: "id", Kind: splits.KeyKindInt}},
		StartOffset: offset(200),
		Stop:        stop,
		FinishedChunks: []splits.FinishedChunk{
			{
				Table:         testTableID,
				SplitID:       "db.t:0",
				End:           splits.SplitKey{int64(3)},
				HighWatermark: offset(300),
			},
			{
				Table:         testTableID,
				SplitID:       "db.t:1",
				Start:         splits.SplitKey{int64(3)},
				HighWatermark: offset(200),
			},
		},
		Schemas: map[string]mysql.Table{
			"db.t": {ID: testTableID, PrimaryKeys: []string{"id"}},
		},
	}
}

func tailRecord(op records.Op, id int64, pos int64) records.Record {
	row := map[string]any{"id": id, "v": "x"}
	record := records.Record{Op: op, Table: testTableID, Pos: offset(pos)}
	if op == records.OpDelete {
		record.Before = row
	} else {
		record.After = row
	}
	return record
}

func runBinlogReader(t *testing.T, split splits.BinlogSplit, steps []streamStep) []records.Event {
	binlogReader, err := NewBinlogReader(split, &scriptedTailer{steps: steps})
	require.NoError(t, err)

	var emitted []records.Event
	err = binlogReader.Run(context.Background(), func(event records.Event) error {
		emitted = append(emitted, event)
		return nil
	})
	require.NoError(t, err)
	return emitted
}

func TestBinlogReader_SuppressesChunkDuplicates(t *testing.T) {
	// Each chunk suppresses exactly the events at or before its own high
	// watermark: no row event may be emitted by both a chunk and the tail.
	steps := []streamStep{
		// id=1 lives in chunk [..,3) with high watermark 300.
		{events: []records.Event{tailRecord(records.OpUpdate, 1, 250)}, pos: offset(250)},
		{events: []records.Event{tailRecord(records.OpUpdate, 1, 301)}, pos: offset(301)},
		// id=5 lives in chunk [3,..) with high watermark 200.
		{events: []records.Event{tailRecord(records.OpCreate, 5, 250)}, pos: offset(250)},
		{events: []records.Event{tailRecord(records.OpDelete, 5, 150)}, pos: offset(150)},
		{events: nil, pos: offset(400)},
	}

	emitted := runBinlogReader(t, testBinlogSplit(mysql.StopAt(offset(400))), steps)
	require.Len(t, emitted, 2)

	first, isOk := emitted[0].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, records.OpUpdate, first.Op)
	assert.Equal(t, offset(301), first.Pos)

	second, isOk := emitted[1].(records.Record)
	require.True(t, isOk)
	assert.Equal(t, records.OpCreate, second.Op)
	assert.Equal(t, int64(5), second.After["id"])

	// Invariant: everything emitted is strictly after the covering chunk's
	// high watermark.
	for _, event := range emitted {
		record := event.(records.Record)
		for _, chunk := range testBinlogSplit(mysql.StopNever).FinishedChunks {
			key, err := splits.CoerceKey(
				[]splits.KeyColumn{{Name: "id", Kind: splits.KeyKindInt}},
				[]any{record.Row()["id"]},
			)
			require.NoError(t, err)

			contains, err := chunk.Contains([]splits.KeyColumn{{Name: "id", Kind: splits.KeyKindInt}}, key)
			require.NoError(t, err)
			if contains {
				assert.False(t, record.Pos.AtOrBefore(chunk.HighWatermark))
			}
		}
	}
}

func TestBinlogReader_UnmonitoredTablePassesThrough(t *testing.T) {
	other := tailRecord(records.OpCreate, 1, 250)
	other.Table = mysql.NewTableID("db", "other")

	steps := []streamStep{
		{events: []records.Event{other}, pos: offset(250)},
		{events: nil, pos: offset(400)},
	}

	emitted := runBinlogReader(t, testBinlogSplit(mysql.StopAt(offset(400))), steps)
	require.Len(t, emitted, 1)
}

func TestBinlogReader_SchemaChangesAlwaysEmitted(t *testing.T) {
	change := records.SchemaChange{
		Table: testTableID,
		DDL:   "ALTER TABLE t ADD COLUMN w int",
		Pos:   offset(250),
	}

	steps := []streamStep{
		{events: []records.Event{change}, pos: offset(250)},
		{events: nil, pos: offset(400)},
	}

	split := testBinlogSplit(mysql.StopAt(offset(400)))
	binlogReader, err := NewBinlogReader(split, &scriptedTailer{steps: steps})
	require.NoError(t, err)

	var emitted []records.Event
	require.NoError(t, binlogReader.Run(context.Background(), func(event records.Event) error {
		emitted = append(emitted, event)
		return nil
	}))

	// Emitted even though its position is before the chunk high watermark,
	// and applied to the reader's schema view.
	require.Len(t, emitted, 1)
	assert.Equal(t, change.DDL, binlogReader.Schemas()["db.t"].CreateStatement)
}

func TestBinlogReader_StopsOnCancel(t *testing.T) {
	// With no stop offset, the tail runs until cancelled.
	binlogReader, err := NewBinlogReader(testBinlogSplit(mysql.StopNever), &scriptedTailer{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = binlogReader.Run(ctx, func(_ records.Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
