package mysql

import (
	"fmt"
	"slices"

	"github.com/terrastream/mysql-cdc/config"
	"github.com/terrastream/mysql-cdc/lib"
	libmysql "github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
)

// messageAdapter converts change events into the raw messages the destination
// writer publishes. Include/exclude column lists apply here, after decoding:
// binlog row images are positional, so the decoding schema always carries
// every column. Watermark signals are planner-protocol internals and produce
// no message.
type messageAdapter struct {
	schemas map[string]libmysql.Table
	filters map[string]columnFilter
}

type columnFilter struct {
	include []string
	exclude []string
}

func (f columnFilter) keep(column string, primaryKeys []string) bool {
	// The key columns always survive filtering.
	if slices.Contains(primaryKeys, column) {
		return true
	}
	if len(f.include) > 0 {
		return slices.Contains(f.include, column)
	}
	return !slices.Contains(f.exclude, column)
}

func newMessageAdapter(schemas map[string]libmysql.Table, tables []*config.MySQLTable) (*messageAdapter, error) {
	filters := make(map[string]columnFilter)
	for _, tableCfg := range tables {
		if len(tableCfg.IncludeColumns) == 0 && len(tableCfg.ExcludeColumns) == 0 {
			continue
		}

		for tableID, schema := range schemas {
			if schema.ID.Table == tableCfg.Name || tableID == tableCfg.Name {
				filters[tableID] = columnFilter{include: tableCfg.IncludeColumns, exclude: tableCfg.ExcludeColumns}
			}
		}
	}

	return &messageAdapter{schemas: schemas, filters: filters}, nil
}

type sourceBlock struct {
	Database string `json:"db"`
	Table    string `json:"table"`
	File     string `json:"file,omitempty"`
	Pos      int64  `json:"pos,omitempty"`
	TsMs     int64  `json:"tsMs,omitempty"`
}

type changePayload struct {
	Op     string         `json:"op,omitempty"`
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
	DDL    string         `json:"ddl,omitempty"`
	Source sourceBlock    `json:"source"`
}

func (a *messageAdapter) BuildMessages(events []records.Event) ([]lib.RawMessage, error) {
	msgs := make([]lib.RawMessage, 0, len(events))
	for _, event := range events {
		switch e := event.(type) {
		case records.Record:
			msg, err := a.buildRecordMessage(e)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		case records.SchemaChange:
			payload := changePayload{
				DDL: e.DDL,
				Source: sourceBlock{
					Database: e.Table.Database,
					Table:    e.Table.Table,
					File:     e.Pos.File,
					Pos:      e.Pos.Pos,
					TsMs:     e.TsMs,
				},
			}
			msgs = append(msgs, lib.NewRawMessage(e.Table.Database, map[string]any{"ddl": e.DDL}, payload))
		case records.Watermark:
			// Internal signal; not published.
		default:
			return nil, fmt.Errorf("unknown event type %T", event)
		}
	}
	return msgs, nil
}

func (a *messageAdapter) buildRecordMessage(record records.Record) (lib.RawMessage, error) {
	schema, isOk := a.schemas[record.Table.String()]
	if !isOk {
		return lib.RawMessage{}, fmt.Errorf("no schema for table %s", record.Table)
	}

	partitionKey, err := partitionKey(schema, record)
	if err != nil {
		return lib.RawMessage{}, err
	}

	payload := changePayload{
		Op:     record.Op.String(),
		Before: a.filterRow(record.Table.String(), schema, record.Before),
		After:  a.filterRow(record.Table.String(), schema, record.After),
		Source: sourceBlock{
			Database: record.Table.Database,
			Table:    record.Table.Table,
			File:     record.Pos.File,
			Pos:      record.Pos.Pos,
			TsMs:     record.TsMs,
		},
	}

	return lib.NewRawMessage(record.Table.String(), partitionKey, payload), nil
}

func (a *messageAdapter) filterRow(tableID string, schema libmysql.Table, row map[string]any) map[string]any {
	if row == nil {
		return nil
	}

	filter, isOk := a.filters[tableID]
	if !isOk {
		return row
	}

	filtered := make(map[string]any, len(row))
	for column, value := range row {
		if filter.keep(column, schema.PrimaryKeys) {
			filtered[column] = value
		}
	}
	return filtered
}

func partitionKey(schema libmysql.Table, record records.Record) (map[string]any, error) {
	row := record.Row()
	partitionKey := make(map[string]any, len(schema.PrimaryKeys))
	for _, keyColumn := range schema.PrimaryKeys {
		value, found := row[keyColumn]
		if !found {
			return nil, fmt.Errorf("record for %s is missing key column %q", record.Table, keyColumn)
		}
		partitionKey[keyColumn] = value
	}
	return partitionKey, nil
}
