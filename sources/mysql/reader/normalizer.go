package reader

import (
	"fmt"
	"strings"

	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

// Normalize turns a chunk's raw buffer into output that represents the chunk's
// key range exactly as of the high watermark.
//
// Input frame:  [low watermark] [snapshot reads] [high watermark] [log slice] [end]
// Output frame: [low watermark] [replayed log records] [remaining snapshot reads] [high watermark]
//
// The log slice between the watermarks is precisely the set of concurrent
// modifications during the chunk's select; applying it to the snapshot yields
// the state at the high watermark.
func Normalize(split splits.SnapshotSplit, buffer []records.Event) ([]records.Event, error) {
	frame, err := parseFrame(split.ID, buffer)
	if err != nil {
		return nil, err
	}

	index := newRowIndex(split.KeyColumns)
	for _, read := range frame.snapshotReads {
		key, err := keyOf(split, read)
		if err != nil {
			return nil, err
		}
		index.put(key, read)
	}

	var replayed []records.Event
	for _, record := range frame.logSlice {
		if record.Table != split.Table {
			continue
		}

		key, err := keyOf(split, record)
		if err != nil {
			return nil, err
		}

		// Events outside the chunk's range belong to other chunks.
		inRange, err := split.Contains(key)
		if err != nil {
			return nil, err
		}
		if !inRange {
			continue
		}

		switch record.Op {
		case records.OpCreate:
			// The select may have already observed the inserted row; the log
			// event wins.
			index.remove(key)
			replayed = append(replayed, record)
		case records.OpUpdate:
			// Report the row as if it had been observed at the high
			// watermark: a synthetic read carrying the after image.
			index.remove(key)
			replayed = append(replayed, records.Record{
				Op:    records.OpRead,
				Table: record.Table,
				After: record.After,
				Pos:   record.Pos,
				TsMs:  record.TsMs,
			})
		case records.OpDelete:
			if !index.remove(key) {
				return nil, fmt.Errorf("chunk %s: delete for key %v does not match any snapshot row", split.ID, key)
			}
		case records.OpRead:
			return nil, fmt.Errorf("chunk %s: read record in the log slice", split.ID)
		default:
			return nil, fmt.Errorf("chunk %s: unknown operation %v", split.ID, record.Op)
		}
	}

	output := make([]records.Event, 0, 2+len(replayed)+index.len())
	output = append(output, frame.low)
	output = append(output, replayed...)
	for _, read := range index.values() {
		output = append(output, read)
	}
	output = append(output, frame.high)
	return output, nil
}

type chunkFrame struct {
	low           records.Watermark
	high          records.Watermark
	snapshotReads []records.Record
	logSlice      []records.Record
}

func parseFrame(splitID string, buffer []records.Event) (chunkFrame, error) {
	if len(buffer) == 0 {
		return chunkFrame{}, fmt.Errorf("chunk %s: empty buffer", splitID)
	}

	low, isOk := watermarkOf(buffer[0], records.WatermarkLow)
	if !isOk {
		return chunkFrame{}, fmt.Errorf("chunk %s: buffer does not start with a low watermark", splitID)
	}

	frame := chunkFrame{low: low}
	i := 1
	for ; i < len(buffer); i++ {
		if high, isHigh := watermarkOf(buffer[i], records.WatermarkHigh); isHigh {
			frame.high = high
			i++
			break
		}

		record, isRecord := buffer[i].(records.Record)
		if !isRecord {
			return chunkFrame{}, fmt.Errorf("chunk %s: unexpected event %T before the high watermark", splitID, buffer[i])
		}
		if record.Op != records.OpRead {
			return chunkFrame{}, fmt.Errorf("chunk %s: %v record in the snapshot section", splitID, record.Op)
		}
		frame.snapshotReads = append(frame.snapshotReads, record)
	}

	if frame.high == (records.Watermark{}) {
		return chunkFrame{}, fmt.Errorf("chunk %s: buffer has no high watermark", splitID)
	}

	// Watermarks frame the interval of concurrent modifications.
	if frame.high.Offset.Before(frame.low.Offset) {
		return chunkFrame{}, fmt.Errorf("chunk %s: high watermark %s precedes low watermark %s",
			splitID, frame.high.Offset, frame.low.Offset)
	}

	sawEnd := false
	for ; i < len(buffer); i++ {
		if _, isEnd := watermarkOf(buffer[i], records.WatermarkEnd); isEnd {
			sawEnd = true
			if i != len(buffer)-1 {
				return chunkFrame{}, fmt.Errorf("chunk %s: events after the end watermark", splitID)
			}
			break
		}

		switch event := buffer[i].(type) {
		case records.Record:
			frame.logSlice = append(frame.logSlice, event)
		case records.SchemaChange:
			// Schema changes inside the watermark window are not part of the
			// chunk's row output; the binlog phase replays them.
		default:
			return chunkFrame{}, fmt.Errorf("chunk %s: unexpected event %T in the log slice", splitID, buffer[i])
		}
	}

	if !sawEnd {
		return chunkFrame{}, fmt.Errorf("chunk %s: buffer has no end watermark", splitID)
	}

	return frame, nil
}

func watermarkOf(event records.Event, kind records.WatermarkKind) (records.Watermark, bool) {
	watermark, isOk := event.(records.Watermark)
	if !isOk || watermark.Kind != kind {
		return records.Watermark{}, false
	}
	return watermark, true
}

// keyOf extracts and canonicalizes a record's split key.
func keyOf(split splits.SnapshotSplit, record records.Record) (splits.SplitKey, error) {
	row := record.Row()
	values := make([]any, len(split.KeyColumns))
	for i, column := range split.KeyColumns {
		value, isOk := row[column.Name]
		if !isOk {
			return nil, fmt.Errorf("record for %s is missing key column %q", record.Table, column.Name)
		}
		values[i] = value
	}
	return splits.CoerceKey(split.KeyColumns, values)
}

// rowIndex is an insertion-ordered map from split key to snapshot read.
type rowIndex struct {
	columns []splits.KeyColumn
	order   []string
	rows    map[string]records.Record
}

func newRowIndex(columns []splits.KeyColumn) *rowIndex {
	return &rowIndex{
		columns: columns,
		rows:    make(map[string]records.Record),
	}
}

func (idx *rowIndex) hash(key splits.SplitKey) string {
	parts := make([]string, len(key))
	for i, value := range key {
		parts[i] = fmt.Sprintf("%v", value)
	}
	return strings.Join(parts, "\x00")
}

func (idx *rowIndex) put(key splits.SplitKey, record records.Record) {
	hashed := idx.hash(key)
	if _, isOk := idx.rows[hashed]; !isOk {
		idx.order = append(idx.order, hashed)
	}
	idx.rows[hashed] = record
}

func (idx *rowIndex) remove(key splits.SplitKey) bool {
	hashed := idx.hash(key)
	if _, isOk := idx.rows[hashed]; !isOk {
		return false
	}
	delete(idx.rows, hashed)
	return true
}

func (idx *rowIndex) len() int {
	return len(idx.rows)
}

func (idx *rowIndex) values() []records.Record {
	values := make([]records.Record, 0, len(idx.rows))
	for _, hashed := range idx.order {
		if record, isOk := idx.rows[hashed]; isOk {
			values = append(values, record)
		}
	}
	return values
}
