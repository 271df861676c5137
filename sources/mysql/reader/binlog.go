package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/btree"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

// BinlogReader replays the tail of the log from the split's start offset,
// suppressing row events that finished chunks already materialized: an event
// for key k at position p is dropped iff some finished chunk covers k and
// p is at or before that chunk's high watermark.
type BinlogReader struct {
	split  splits.BinlogSplit
	index  map[mysql.TableID]*chunkIndex
	tailer LogTailer

	// schemas is the reader's live view; schema-change events update it.
	schemas map[string]mysql.Table
}

func NewBinlogReader(split splits.BinlogSplit, tailer LogTailer) (*BinlogReader, error) {
	index := make(map[mysql.TableID]*chunkIndex)
	for _, chunk := range split.FinishedChunks {
		tableIndex, isOk := index[chunk.Table]
		if !isOk {
			tableIndex = newChunkIndex(split.KeyColumns)
			index[chunk.Table] = tableIndex
		}
		if err := tableIndex.add(chunk); err != nil {
			return nil, fmt.Errorf("failed to index finished chunk %s: %w", chunk.SplitID, err)
		}
	}

	schemas := make(map[string]mysql.Table, len(split.Schemas))
	for tableID, schema := range split.Schemas {
		schemas[tableID] = schema
	}

	return &BinlogReader{
		split:   split,
		index:   index,
		tailer:  tailer,
		schemas: schemas,
	}, nil
}

// Run tails the log and hands surviving events to emit. It returns when the
// stop offset is reached, the context is cancelled, or the stream fails; with
// no stop offset it runs forever.
func (r *BinlogReader) Run(ctx context.Context, emit func(records.Event) error) error {
	slog.Info("Starting binlog tail",
		slog.String("splitID", r.split.ID),
		slog.String("startOffset", r.split.StartOffset.String()),
		slog.String("stop", r.split.Stop.String()),
		slog.Int("finishedChunks", len(r.split.FinishedChunks)),
	)

	stream, err := r.tailer.Tail(ctx, r.split.StartOffset)
	if err != nil {
		return fmt.Errorf("failed to start binlog tail at %s: %w", r.split.StartOffset, err)
	}
	defer stream.Close()

	for {
		events, pos, err := stream.Next(ctx)
		if err != nil {
			return fmt.Errorf("binlog tail failed at %s: %w", pos, err)
		}

		for _, event := range events {
			switch e := event.(type) {
			case records.Record:
				keep, err := r.shouldEmit(e)
				if err != nil {
					return err
				}
				if !keep {
					continue
				}
				if err = emit(e); err != nil {
					return err
				}
			case records.SchemaChange:
				// Schema changes pass through unconditionally and update the
				// reader's view.
				r.applySchemaChange(e)
				if err = emit(e); err != nil {
					return err
				}
			case records.Watermark:
				return fmt.Errorf("binlog tail produced a watermark signal for split %s", e.SplitID)
			default:
				return fmt.Errorf("binlog tail produced unknown event %T", event)
			}
		}

		if r.split.Stop.Reached(pos) {
			slog.Info("Binlog tail reached its stop offset", slog.String("offset", pos.String()))
			return nil
		}
	}
}

func (r *BinlogReader) shouldEmit(record records.Record) (bool, error) {
	tableIndex, isOk := r.index[record.Table]
	if !isOk {
		// No finished chunk covers this table; nothing to suppress.
		return true, nil
	}

	values := make([]any, len(r.split.KeyColumns))
	for i, column := range r.split.KeyColumns {
		value, found := record.Row()[column.Name]
		if !found {
			return false, fmt.Errorf("event for %s is missing key column %q", record.Table, column.Name)
		}
		values[i] = value
	}

	key, err := splits.CoerceKey(r.split.KeyColumns, values)
	if err != nil {
		return false, err
	}

	chunk, isOk, err := tableIndex.lookup(key)
	if err != nil {
		return false, err
	}
	if !isOk {
		return true, nil
	}

	// Events at or before the chunk's high watermark were already represented
	// in the chunk's normalized output.
	return !record.Pos.AtOrBefore(chunk.HighWatermark), nil
}

func (r *BinlogReader) applySchemaChange(change records.SchemaChange) {
	tableID := change.Table.String()
	schema, isOk := r.schemas[tableID]
	if !isOk {
		schema = mysql.Table{ID: change.Table}
	}
	schema.CreateStatement = change.DDL
	r.schemas[tableID] = schema
}

// Schemas returns the reader's current schema view.
func (r *BinlogReader) Schemas() map[string]mysql.Table {
	return r.schemas
}

// chunkIndex holds one table's finished chunks ordered by range start, so a
// key's covering chunk is one descending seek away. Chunk ranges are disjoint,
// so the candidate with the greatest start at or below the key is the only one
// that can contain it.
type chunkIndex struct {
	columns []splits.KeyColumn
	tree    *btree.BTreeG[indexedChunk]
}

type indexedChunk struct {
	chunk splits.FinishedChunk
}

func newChunkIndex(columns []splits.KeyColumn) *chunkIndex {
	index := &chunkIndex{columns: columns}
	index.tree = btree.NewG[indexedChunk](8, func(a, b indexedChunk) bool {
		return index.lessStart(a.chunk.Start, b.chunk.Start)
	})
	return index
}

// lessStart orders chunk starts with nil (unbounded below) first. Keys are
// canonical by construction, so comparison cannot fail here; add validates.
func (c *chunkIndex) lessStart(a, b splits.SplitKey) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}

	result, err := splits.CompareKeys(c.columns, a, b)
	if err != nil {
		panic(fmt.Sprintf("finished chunk keys are not canonical: %v", err))
	}
	return result < 0
}

func (c *chunkIndex) add(chunk splits.FinishedChunk) error {
	// Validate canonical form up front so tree comparisons cannot fail later.
	for _, boundary := range []splits.SplitKey{chunk.Start, chunk.End} {
		if boundary == nil {
			continue
		}
		if _, err := splits.CompareKeys(c.columns, boundary, boundary); err != nil {
			return err
		}
	}

	c.tree.ReplaceOrInsert(indexedChunk{chunk: chunk})
	return nil
}

// lookup finds the finished chunk containing the key, if any.
func (c *chunkIndex) lookup(key splits.SplitKey) (splits.FinishedChunk, bool, error) {
	if _, err := splits.CompareKeys(c.columns, key, key); err != nil {
		return splits.FinishedChunk{}, false, err
	}

	var candidate *splits.FinishedChunk
	pivot := indexedChunk{chunk: splits.FinishedChunk{Start: key}}
	c.tree.DescendLessOrEqual(pivot, func(item indexedChunk) bool {
		candidate = &item.chunk
		return false
	})

	if candidate == nil {
		return splits.FinishedChunk{}, false, nil
	}

	contains, err := candidate.Contains(c.columns, key)
	if err != nil || !contains {
		return splits.FinishedChunk{}, false, err
	}
	return *candidate, true, nil
}
