package splits

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/lib/ptr"
)

// BinlogSplitID names the singleton log-tail split.
const BinlogSplitID = "binlog-split"

// PlanFunc produces the initial chunk list. It runs at most once, inside Open.
type PlanFunc func(ctx context.Context) ([]SnapshotSplit, error)

// SplitAssigner owns the chunk lifecycle on the planner side. Chunks move
// between three disjoint collections: remaining (not yet assigned), assigned
// (out with a worker), and finished (high watermark reported). The binlog
// split is emitted exactly once, after every chunk is finished and the
// finished set has survived a completed checkpoint.
//
// The assigner is not goroutine safe; the enumerator serializes all access on
// its event loop.
type SplitAssigner struct {
	planFn PlanFunc

	remaining []SnapshotSplit
	assigned  map[string]SnapshotSplit
	finished  map[string]SnapshotSplit

	// durableFinished tracks which finished chunks have been committed by at
	// least one completed checkpoint. The binlog split must not be emitted
	// before the finished set is durable, otherwise a restore could lose the
	// hand-off.
	durableFinished    map[string]struct{}
	pendingCheckpoints map[int64][]string

	binlogEmitted bool
	opened        bool
}

func NewSplitAssigner(planFn PlanFunc) *SplitAssigner {
	return &SplitAssigner{
		planFn:             planFn,
		assigned:           make(map[string]SnapshotSplit),
		finished:           make(map[string]SnapshotSplit),
		durableFinished:    make(map[string]struct{}),
		pendingCheckpoints: make(map[int64][]string),
	}
}

// RestoreSplitAssigner rebuilds an assigner from checkpoint state. Splits that
// were assigned at checkpoint time return to remaining: workers are stateless
// across restarts and re-request their work.
func RestoreSplitAssigner(state AssignerState) *SplitAssigner {
	assigner := NewSplitAssigner(nil)
	assigner.opened = true
	assigner.binlogEmitted = state.BinlogEmitted

	assigner.remaining = append(assigner.remaining, state.Remaining...)
	assigner.remaining = append(assigner.remaining, state.Assigned...)

	for _, split := range state.Finished {
		assigner.finished[split.ID] = split
	}
	for _, splitID := range state.DurableFinished {
		assigner.durableFinished[splitID] = struct{}{}
	}

	return assigner
}

// Open is idempotent. When the assigner was not restored from state, it lazily
// plans the chunk list.
func (a *SplitAssigner) Open(ctx context.Context) error {
	if a.opened {
		return nil
	}

	planned, err := a.planFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to plan chunks: %w", err)
	}

	a.remaining = planned
	a.opened = true
	return nil
}

// Next hands out the next split, or (nil, false) when nothing can be assigned
// right now. Snapshot chunks drain first; the binlog split follows once the
// finished set is complete and checkpoint-durable; afterwards there is nothing
// left, ever.
func (a *SplitAssigner) Next() (Split, bool) {
	if len(a.remaining) > 0 {
		split := a.remaining[0]
		a.remaining = a.remaining[1:]
		a.assigned[split.ID] = split
		return split, true
	}

	if a.readyForBinlogSplit() {
		finished := make([]SnapshotSplit, 0, len(a.finished))
		for _, split := range a.finished {
			finished = append(finished, split)
		}

		split, err := NewBinlogSplit(finished)
		if err != nil {
			// Unreachable once readyForBinlogSplit holds; fail safe by
			// withholding the split.
			slog.Error("Failed to build binlog split", slog.Any("err", err))
			return nil, false
		}

		a.binlogEmitted = true
		return split, true
	}

	return nil, false
}

func (a *SplitAssigner) readyForBinlogSplit() bool {
	if a.binlogEmitted || len(a.assigned) > 0 || len(a.finished) == 0 {
		return false
	}

	for splitID := range a.finished {
		if _, isOk := a.durableFinished[splitID]; !isOk {
			return false
		}
	}
	return true
}

// NewBinlogSplit assembles the singleton tail split from finished snapshot
// splits. Also used when resuming a job whose snapshot phase completed in an
// earlier run.
func NewBinlogSplit(finished []SnapshotSplit) (BinlogSplit, error) {
	if len(finished) == 0 {
		return BinlogSplit{}, fmt.Errorf("no finished chunks to build the binlog split from")
	}

	finished = append([]SnapshotSplit{}, finished...)
	sortSplits(finished)
	for _, split := range finished {
		if split.HighWatermark == nil {
			return BinlogSplit{}, fmt.Errorf("chunk %s has no high watermark", split.ID)
		}
	}

	// The tail must start at the earliest safe resume point: the smallest
	// high watermark over all chunks. Everything before a chunk's own high
	// watermark is suppressed per chunk by the tail reader.
	startOffset := *finished[0].HighWatermark
	chunks := make([]FinishedChunk, len(finished))
	schemas := make(map[string]mysql.Table)
	for i, split := range finished {
		startOffset = mysql.MinOffset(startOffset, *split.HighWatermark)
		chunks[i] = FinishedChunk{
			Table:         split.Table,
			SplitID:       split.ID,
			Start:         split.Start,
			End:           split.End,
			HighWatermark: *split.HighWatermark,
		}
		for tableID, schema := range split.Schemas {
			schemas[tableID] = schema
		}
	}

	return BinlogSplit{
		ID:             BinlogSplitID,
		KeyColumns:     finished[0].KeyColumns,
		StartOffset:    startOffset,
		Stop:           mysql.StopNever,
		FinishedChunks: chunks,
		Schemas:        schemas,
	}, nil
}

// OnFinishedSplits records reported high watermarks and returns the split ids
// to acknowledge. Re-reports of already-finished chunks are acknowledged again
// without any state change.
func (a *SplitAssigner) OnFinishedSplits(offsets map[string]mysql.BinlogOffset) []string {
	acked := make([]string, 0, len(offsets))
	for splitID, highWatermark := range offsets {
		if split, isOk := a.assigned[splitID]; isOk {
			split.HighWatermark = ptr.ToPtr(highWatermark)
			a.finished[splitID] = split
			delete(a.assigned, splitID)
			acked = append(acked, splitID)
			continue
		}

		if _, isOk := a.finished[splitID]; isOk {
			// Duplicate report, e.g. after a lost ack; re-ack.
			acked = append(acked, splitID)
			continue
		}

		slog.Warn("Ignoring finish report for unknown split", slog.String("splitID", splitID))
	}

	sort.Strings(acked)
	return acked
}

// AddSplits returns splits from a lost worker to the front of the remaining
// set, unchanged, so they are handed out again before any other chunk.
func (a *SplitAssigner) AddSplits(splits []SnapshotSplit) {
	for _, split := range splits {
		delete(a.assigned, split.ID)
	}
	a.remaining = append(append([]SnapshotSplit{}, splits...), a.remaining...)
}

// WaitingForFinishedSplits is true while any chunk is still unassigned or out
// with a worker; the enumerator uses it to re-solicit lost finish reports.
func (a *SplitAssigner) WaitingForFinishedSplits() bool {
	return len(a.remaining) > 0 || len(a.assigned) > 0
}

// SnapshotState captures the assigner for a checkpoint and remembers which
// finished chunks ride on it; they become durable when the checkpoint
// completes.
func (a *SplitAssigner) SnapshotState(checkpointID int64) AssignerState {
	finishedIDs := make([]string, 0, len(a.finished))
	finished := make([]SnapshotSplit, 0, len(a.finished))
	for splitID, split := range a.finished {
		finishedIDs = append(finishedIDs, splitID)
		finished = append(finished, split)
	}
	sort.Strings(finishedIDs)
	sortSplits(finished)
	a.pendingCheckpoints[checkpointID] = finishedIDs

	assigned := make([]SnapshotSplit, 0, len(a.assigned))
	for _, split := range a.assigned {
		assigned = append(assigned, split)
	}
	sortSplits(assigned)

	durable := make([]string, 0, len(a.durableFinished))
	for splitID := range a.durableFinished {
		durable = append(durable, splitID)
	}
	sort.Strings(durable)

	remaining := make([]SnapshotSplit, len(a.remaining))
	copy(remaining, a.remaining)

	return AssignerState{
		Remaining:       remaining,
		Assigned:        assigned,
		Finished:        finished,
		DurableFinished: durable,
		BinlogEmitted:   a.binlogEmitted,
	}
}

// NotifyCheckpointComplete marks every finished chunk recorded at or before the
// completed checkpoint as durable.
func (a *SplitAssigner) NotifyCheckpointComplete(checkpointID int64) {
	for pendingID, splitIDs := range a.pendingCheckpoints {
		if pendingID > checkpointID {
			continue
		}
		for _, splitID := range splitIDs {
			a.durableFinished[splitID] = struct{}{}
		}
		delete(a.pendingCheckpoints, pendingID)
	}
}

func (a *SplitAssigner) IsBinlogEmitted() bool {
	return a.binlogEmitted
}

func sortSplits(splits []SnapshotSplit) {
	sort.Slice(splits, func(i, j int) bool {
		return splits[i].ID < splits[j].ID
	})
}
