package splits

import (
	"fmt"

	"github.com/terrastream/mysql-cdc/lib/mysql"
)

// Split is either a SnapshotSplit (one key-range chunk of a table) or the
// BinlogSplit (the singleton log tail). The interface is sealed so consumers
// can switch exhaustively over the two variants.
type Split interface {
	SplitID() string
	isSplit()
}

// SnapshotSplit is one chunk of a table, covering the key range [Start, End).
// A nil Start means the range is unbounded below (the first chunk); a nil End
// means unbounded above (the last chunk).
type SnapshotSplit struct {
	ID         string
	Table      mysql.TableID
	KeyColumns []KeyColumn
	Start      SplitKey
	End        SplitKey

	// HighWatermark is set once the chunk's snapshot read has finished.
	HighWatermark *mysql.BinlogOffset

	// Schemas captures the shape of every monitored table at chunk time.
	Schemas map[string]mysql.Table
}

func (s SnapshotSplit) SplitID() string { return s.ID }
func (s SnapshotSplit) isSplit()        {}

func (s SnapshotSplit) String() string {
	return fmt.Sprintf("SnapshotSplit[%s %s start=%v end=%v]", s.ID, s.Table, s.Start, s.End)
}

// Contains reports whether a canonical key falls inside [Start, End).
func (s SnapshotSplit) Contains(key SplitKey) (bool, error) {
	return rangeContains(s.KeyColumns, key, s.Start, s.End)
}

// IsFinished reports whether the snapshot read has completed and the high
// watermark recorded.
func (s SnapshotSplit) IsFinished() bool {
	return s.HighWatermark != nil
}

// FinishedChunk is the part of a finished snapshot split the binlog tail needs
// to suppress events the chunk already materialized.
type FinishedChunk struct {
	Table         mysql.TableID
	SplitID       string
	Start         SplitKey
	End           SplitKey
	HighWatermark mysql.BinlogOffset
}

// Contains reports whether a canonical key falls inside the chunk's range.
func (f FinishedChunk) Contains(columns []KeyColumn, key SplitKey) (bool, error) {
	return rangeContains(columns, key, f.Start, f.End)
}

// BinlogSplit is the singleton split that tails the log once every chunk is
// finished and durably acked.
type BinlogSplit struct {
	ID          string
	KeyColumns  []KeyColumn
	StartOffset mysql.BinlogOffset
	Stop        mysql.StopCondition

	// FinishedChunks carries one entry per snapshotted chunk, used for
	// duplicate suppression while tailing.
	FinishedChunks []FinishedChunk

	Schemas map[string]mysql.Table
}

func (b BinlogSplit) SplitID() string { return b.ID }
func (b BinlogSplit) isSplit()        {}

func (b BinlogSplit) String() string {
	return fmt.Sprintf("BinlogSplit[%s start=%s stop=%s chunks=%d]",
		b.ID, b.StartOffset, b.Stop, len(b.FinishedChunks))
}

func rangeContains(columns []KeyColumn, key, start, end SplitKey) (bool, error) {
	if start != nil {
		result, err := CompareKeys(columns, key, start)
		if err != nil {
			return false, err
		}
		if result < 0 {
			return false, nil
		}
	}

	if end != nil {
		result, err := CompareKeys(columns, key, end)
		if err != nil {
			return false, err
		}
		if result >= 0 {
			return false, nil
		}
	}

	return true, nil
}
