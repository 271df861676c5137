package splits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/mysql-cdc/lib/mysql"
)

func plannedSplits() []SnapshotSplit {
	columns := []KeyColumn{{Name: "id", Kind: KeyKindInt}}
	table := mysql.NewTableID("db", "t")
	schemas := map[string]mysql.Table{"db.t": {ID: table, PrimaryKeys: []string{"id"}}}
	return []SnapshotSplit{
		{ID: "db.t:0", Table: table, KeyColumns: columns, End: SplitKey{int64(3)}, Schemas: schemas},
		{ID: "db.t:1", Table: table, KeyColumns: columns, Start: SplitKey{int64(3)}, End: SplitKey{int64(6)}, Schemas: schemas},
		{ID: "db.t:2", Table: table, KeyColumns: columns, Start: SplitKey{int64(6)}, Schemas: schemas},
	}
}

func openedAssigner(t *testing.T) *SplitAssigner {
	assigner := NewSplitAssigner(func(_ context.Context) ([]SnapshotSplit, error) {
		return plannedSplits(), nil
	})
	require.NoError(t, assigner.Open(context.Background()))
	return assigner
}

func finishSplit(assigner *SplitAssigner, splitID string, offset mysql.BinlogOffset) []string {
	return assigner.OnFinishedSplits(map[string]mysql.BinlogOffset{splitID: offset})
}

func TestSplitAssigner_SnapshotPhase(t *testing.T) {
	assigner := openedAssigner(t)

	// Open is idempotent.
	require.NoError(t, assigner.Open(context.Background()))
	assert.True(t, assigner.WaitingForFinishedSplits())

	first, isOk := assigner.Next()
	require.True(t, isOk)
	assert.Equal(t, "db.t:0", first.SplitID())

	second, isOk := assigner.Next()
	require.True(t, isOk)
	assert.Equal(t, "db.t:1", second.SplitID())

	third, isOk := assigner.Next()
	require.True(t, isOk)
	assert.Equal(t, "db.t:2", third.SplitID())

	// All chunks are out; nothing to hand out until they finish and the
	// finished set is checkpoint-durable.
	_, isOk = assigner.Next()
	assert.False(t, isOk)
}

func TestSplitAssigner_BinlogSplitGating(t *testing.T) {
	assigner := openedAssigner(t)
	for range 3 {
		_, isOk := assigner.Next()
		require.True(t, isOk)
	}

	acked := finishSplit(assigner, "db.t:0", mysql.NewBinlogOffset("mysql-bin.000001", 300))
	assert.Equal(t, []string{"db.t:0"}, acked)

	// Not all chunks finished yet.
	_, isOk := assigner.Next()
	assert.False(t, isOk)

	finishSplit(assigner, "db.t:1", mysql.NewBinlogOffset("mysql-bin.000001", 100))
	finishSplit(assigner, "db.t:2", mysql.NewBinlogOffset("mysql-bin.000001", 200))
	assert.False(t, assigner.WaitingForFinishedSplits())

	// Finished but not yet durable: the binlog split stays back until a
	// checkpoint containing the finished set completes.
	_, isOk = assigner.Next()
	assert.False(t, isOk)

	assigner.SnapshotState(7)
	_, isOk = assigner.Next()
	assert.False(t, isOk)

	assigner.NotifyCheckpointComplete(7)
	split, isOk := assigner.Next()
	require.True(t, isOk)

	binlogSplit, isOk := split.(BinlogSplit)
	require.True(t, isOk)
	assert.Equal(t, BinlogSplitID, binlogSplit.ID)

	// The tail resumes from the earliest high watermark.
	assert.Equal(t, mysql.NewBinlogOffset("mysql-bin.000001", 100), binlogSplit.StartOffset)
	assert.True(t, binlogSplit.Stop.Never())
	require.Len(t, binlogSplit.FinishedChunks, 3)
	assert.Equal(t, "db.t:0", binlogSplit.FinishedChunks[0].SplitID)
	assert.Equal(t, mysql.NewBinlogOffset("mysql-bin.000001", 300), binlogSplit.FinishedChunks[0].HighWatermark)
	assert.Contains(t, binlogSplit.Schemas, "db.t")

	// The binlog split is emitted exactly once.
	assert.True(t, assigner.IsBinlogEmitted())
	_, isOk = assigner.Next()
	assert.False(t, isOk)
}

func TestSplitAssigner_IdempotentFinishReports(t *testing.T) {
	assigner := openedAssigner(t)
	split, isOk := assigner.Next()
	require.True(t, isOk)

	offset := mysql.NewBinlogOffset("mysql-bin.000001", 50)
	acked := finishSplit(assigner, split.SplitID(), offset)
	assert.Equal(t, []string{split.SplitID()}, acked)

	// A duplicate report, e.g. after a lost ack, is re-acked without moving
	// any state.
	ackedAgain := finishSplit(assigner, split.SplitID(), offset)
	assert.Equal(t, acked, ackedAgain)

	// Unknown splits are ignored.
	assert.Empty(t, finishSplit(assigner, "db.t:99", offset))
}

func TestSplitAssigner_AddSplitsAfterWorkerLoss(t *testing.T) {
	assigner := openedAssigner(t)
	split, isOk := assigner.Next()
	require.True(t, isOk)

	snapshotSplit, isOk := split.(SnapshotSplit)
	require.True(t, isOk)

	// The worker dies; the runtime hands the split back unchanged.
	assigner.AddSplits([]SnapshotSplit{snapshotSplit})
	assert.True(t, assigner.WaitingForFinishedSplits())

	reassigned, isOk := assigner.Next()
	require.True(t, isOk)
	assert.Equal(t, split.SplitID(), reassigned.SplitID())
}

func TestSplitAssigner_SnapshotAndRestore(t *testing.T) {
	assigner := openedAssigner(t)

	assigned, isOk := assigner.Next()
	require.True(t, isOk)
	finishSplit(assigner, assigned.SplitID(), mysql.NewBinlogOffset("mysql-bin.000001", 42))

	inFlight, isOk := assigner.Next()
	require.True(t, isOk)

	state := assigner.SnapshotState(1)
	assert.Len(t, state.Remaining, 1)
	assert.Len(t, state.Assigned, 1)
	assert.Len(t, state.Finished, 1)
	assert.False(t, state.BinlogEmitted)

	data, err := MarshalAssignerState(state)
	require.NoError(t, err)
	restoredState, err := UnmarshalAssignerState(data)
	require.NoError(t, err)

	restored := RestoreSplitAssigner(restoredState)
	require.NoError(t, restored.Open(context.Background()))

	// The in-flight split returns to the pool: workers are stateless across
	// restarts and re-request their work.
	var handedOut []string
	for {
		split, isOk := restored.Next()
		if !isOk {
			break
		}
		handedOut = append(handedOut, split.SplitID())
	}
	assert.Contains(t, handedOut, inFlight.SplitID())
	assert.Len(t, handedOut, 2)

	// The finished chunk survived with its watermark.
	assert.Len(t, restoredState.Finished, 1)
	require.NotNil(t, restoredState.Finished[0].HighWatermark)
	assert.Equal(t, mysql.NewBinlogOffset("mysql-bin.000001", 42), *restoredState.Finished[0].HighWatermark)
}

func TestSplitAssigner_RestoreAfterBinlogEmitted(t *testing.T) {
	assigner := openedAssigner(t)
	for range 3 {
		split, isOk := assigner.Next()
		require.True(t, isOk)
		finishSplit(assigner, split.SplitID(), mysql.NewBinlogOffset("mysql-bin.000001", 10))
	}
	assigner.SnapshotState(1)
	assigner.NotifyCheckpointComplete(1)

	_, isOk := assigner.Next()
	require.True(t, isOk)

	state := assigner.SnapshotState(2)
	assert.True(t, state.BinlogEmitted)

	restored := RestoreSplitAssigner(state)
	_, isOk = restored.Next()
	assert.False(t, isOk)
}
