package streaming

import (
	"context"
	"fmt"
	"strings"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/terrastream/mysql-cdc/config"
	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/reader"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
)

// Tailer opens binlog tails against the configured server. Each tail holds its
// own replication session, identified by the worker's server id.
type Tailer struct {
	cfg      config.MySQL
	serverID uint32

	// schemas maps "db.table" to the column layout rows decode against.
	schemas map[string]mysql.Table
}

func NewTailer(cfg config.MySQL, serverID uint32, schemas map[string]mysql.Table) *Tailer {
	return &Tailer{cfg: cfg, serverID: serverID, schemas: schemas}
}

func (t *Tailer) Tail(_ context.Context, from mysql.BinlogOffset) (reader.LogStream, error) {
	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: t.serverID,
		Flavor:   gomysql.MySQLFlavor,
		Host:     t.cfg.Host,
		Port:     uint16(t.cfg.Port),
		User:     t.cfg.Username,
		Password: t.cfg.Password,
	})

	streamer, err := syncer.StartSync(gomysql.Position{Name: from.File, Pos: uint32(from.Pos)})
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start sync at %s: %w", from, err)
	}

	return &logStream{
		syncer:   syncer,
		streamer: streamer,
		pos:      from,
		schemas:  t.schemas,
	}, nil
}

type logStream struct {
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	pos      mysql.BinlogOffset
	schemas  map[string]mysql.Table
}

func (s *logStream) Close() error {
	s.syncer.Close()
	return nil
}

// Next consumes one log event. Every event advances the reported position,
// even when it decodes to no records, so callers can track progress through
// quiet stretches of the log.
func (s *logStream) Next(ctx context.Context) ([]records.Event, mysql.BinlogOffset, error) {
	event, err := s.streamer.GetEvent(ctx)
	if err != nil {
		return nil, s.pos, fmt.Errorf("failed to get binlog event: %w", err)
	}

	// Artificial events carry no position.
	if event.Header.LogPos > 0 {
		s.pos.Pos = int64(event.Header.LogPos)
	}
	tsMs := int64(event.Header.Timestamp) * 1000

	switch e := event.Event.(type) {
	case *replication.RotateEvent:
		s.pos = mysql.NewBinlogOffset(string(e.NextLogName), int64(e.Position))
		return nil, s.pos, nil
	case *replication.RowsEvent:
		decoded, err := s.decodeRows(event.Header, e, tsMs)
		return decoded, s.pos, err
	case *replication.QueryEvent:
		if change, isOk := s.schemaChange(e, tsMs); isOk {
			return []records.Event{change}, s.pos, nil
		}
		return nil, s.pos, nil
	default:
		return nil, s.pos, nil
	}
}

func (s *logStream) decodeRows(header *replication.EventHeader, event *replication.RowsEvent, tsMs int64) ([]records.Event, error) {
	tableID := mysql.NewTableID(string(event.Table.Schema), string(event.Table.Table))
	schema, isOk := s.schemas[tableID.String()]
	if !isOk {
		// Not a monitored table; the position still advanced.
		return nil, nil
	}

	columns := schema.ColumnNames()
	switch header.EventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		decoded := make([]records.Event, 0, len(event.Rows))
		for _, row := range event.Rows {
			after, err := zipRow(columns, row)
			if err != nil {
				return nil, err
			}
			decoded = append(decoded, records.Record{
				Op: records.OpCreate, Table: tableID, After: after, Pos: s.pos, TsMs: tsMs,
			})
		}
		return decoded, nil
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		if len(event.Rows)%2 != 0 {
			return nil, fmt.Errorf("update event for %s has %d row images", tableID, len(event.Rows))
		}

		decoded := make([]records.Event, 0, len(event.Rows)/2)
		for i := 0; i < len(event.Rows); i += 2 {
			before, err := zipRow(columns, event.Rows[i])
			if err != nil {
				return nil, err
			}
			after, err := zipRow(columns, event.Rows[i+1])
			if err != nil {
				return nil, err
			}
			decoded = append(decoded, records.Record{
				Op: records.OpUpdate, Table: tableID, Before: before, After: after, Pos: s.pos, TsMs: tsMs,
			})
		}
		return decoded, nil
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		decoded := make([]records.Event, 0, len(event.Rows))
		for _, row := range event.Rows {
			before, err := zipRow(columns, row)
			if err != nil {
				return nil, err
			}
			decoded = append(decoded, records.Record{
				Op: records.OpDelete, Table: tableID, Before: before, Pos: s.pos, TsMs: tsMs,
			})
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unexpected rows event type %s for %s", header.EventType, tableID)
	}
}

func (s *logStream) schemaChange(event *replication.QueryEvent, tsMs int64) (records.SchemaChange, bool) {
	query := strings.TrimSpace(string(event.Query))
	if !isDDL(query) {
		return records.SchemaChange{}, false
	}

	return records.SchemaChange{
		Table: mysql.NewTableID(string(event.Schema), ""),
		DDL:   query,
		Pos:   s.pos,
		TsMs:  tsMs,
	}, true
}

// isDDL separates schema statements from the transaction bookkeeping that also
// arrives as query events.
func isDDL(query string) bool {
	upper := strings.ToUpper(query)
	for _, prefix := range []string{"ALTER ", "CREATE ", "DROP ", "RENAME ", "TRUNCATE "} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

func zipRow(columns []string, row []any) (map[string]any, error) {
	if len(row) > len(columns) {
		return nil, fmt.Errorf("row has %d values but the schema has %d columns", len(row), len(columns))
	}

	result := make(map[string]any, len(row))
	for i, value := range row {
		result[columns[i]] = value
	}
	return result, nil
}
