package reader

import (
	"context"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

// LogStream is a running binlog tail. Next blocks for the next log event and
// returns the records decoded from it together with the stream position after
// the event; events that carry no row data (heartbeats, rotations,
// transaction bookkeeping) return an empty slice with an advanced position,
// so callers can always observe progress through the log.
type LogStream interface {
	Next(ctx context.Context) ([]records.Event, mysql.BinlogOffset, error)
	Close() error
}

// LogTailer opens binlog tails. The production implementation wraps a
// replication client; tests script event sequences.
type LogTailer interface {
	Tail(ctx context.Context, from mysql.BinlogOffset) (LogStream, error)
}

// ChunkQuerier runs the SQL side of a chunk read on the worker's dedicated
// connection.
type ChunkQuerier interface {
	// CurrentOffset reads the current tip of the binary log.
	CurrentOffset(ctx context.Context) (mysql.BinlogOffset, error)

	// ReadChunk streams the chunk's rows in key order, calling emit per row.
	ReadChunk(ctx context.Context, split splits.SnapshotSplit, emit func(row map[string]any) error) error
}
