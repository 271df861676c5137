package records

import (
	"fmt"

	"github.com/terrastream/mysql-cdc/lib/mysql"
)

// Op is the operation a data record carries. The set is closed; consumers
// switch exhaustively and treat anything else as a protocol error.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
	// OpRead marks a row observed by a snapshot select rather than a log event.
	OpRead
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "c"
	case OpUpdate:
		return "u"
	case OpDelete:
		return "d"
	case OpRead:
		return "r"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Event is one element of the change stream: a data Record, a SchemaChange, or
// a Watermark signal.
type Event interface {
	isEvent()
}

// Record is a single-row change event.
type Record struct {
	Op     Op
	Table  mysql.TableID
	Before map[string]any
	After  map[string]any

	// Pos is the end position of the log event this record was decoded from.
	// Snapshot reads carry the zero offset.
	Pos  mysql.BinlogOffset
	TsMs int64
}

func (r Record) isEvent() {}

// Row returns the image that identifies the record's key: the after image,
// except for deletes which only have a before image.
func (r Record) Row() map[string]any {
	if r.Op == OpDelete {
		return r.Before
	}
	return r.After
}

// SchemaChange is a DDL statement observed in the log.
type SchemaChange struct {
	Table mysql.TableID
	DDL   string
	Pos   mysql.BinlogOffset
	TsMs  int64
}

func (s SchemaChange) isEvent() {}

// WatermarkKind tags the synthetic signal events that frame a chunk's buffer.
type WatermarkKind int

const (
	WatermarkLow WatermarkKind = iota
	WatermarkHigh
	// WatermarkEnd closes a chunk's buffer: no log event at or before the high
	// watermark can still arrive.
	WatermarkEnd
)

func (k WatermarkKind) String() string {
	switch k {
	case WatermarkLow:
		return "low"
	case WatermarkHigh:
		return "high"
	case WatermarkEnd:
		return "end"
	default:
		return fmt.Sprintf("watermark(%d)", int(k))
	}
}

// Watermark is a synthetic signal event bound to one split.
type Watermark struct {
	Kind    WatermarkKind
	SplitID string
	Offset  mysql.BinlogOffset
}

func (w Watermark) isEvent() {}
