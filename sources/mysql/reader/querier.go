package reader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/lib/utils"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

const (
	jitterBaseMs = 300
	jitterMaxMs  = 5000
	batchRetries = 10
)

// sqlChunkQuerier reads chunk rows over a dedicated connection using keyset
// pagination: each batch selects up to fetchSize rows ordered by the split
// key, resuming strictly after the previous batch's last key.
type sqlChunkQuerier struct {
	db        *sql.DB
	fetchSize uint
}

func NewSQLChunkQuerier(db *sql.DB, fetchSize uint) ChunkQuerier {
	return &sqlChunkQuerier{db: db, fetchSize: fetchSize}
}

func (q *sqlChunkQuerier) CurrentOffset(ctx context.Context) (mysql.BinlogOffset, error) {
	return mysql.CurrentOffset(ctx, q.db)
}

func (q *sqlChunkQuerier) ReadChunk(ctx context.Context, split splits.SnapshotSplit, emit func(row map[string]any) error) error {
	schema, isOk := split.Schemas[split.Table.String()]
	if !isOk {
		return fmt.Errorf("split %s carries no schema for %s", split.ID, split.Table)
	}

	keyColumn := split.KeyColumns[0]
	lower := split.Start
	lowerInclusive := true
	for {
		query, args := buildChunkQuery(split.Table, schema.ColumnNames(), keyColumn.Name, lower, lowerInclusive, split.End, q.fetchSize)

		// Transient connection failures retry with bounded backoff; running
		// out of retries fails the chunk.
		batch, err := utils.WithJitteredRetries(jitterBaseMs, jitterMaxMs, batchRetries, func(_ int) ([]map[string]any, error) {
			return q.readBatch(ctx, query, args, schema.ColumnNames())
		})
		if err != nil {
			return fmt.Errorf("failed to read chunk batch: %w", err)
		}

		for _, row := range batch {
			if err = emit(row); err != nil {
				return err
			}
		}

		if uint(len(batch)) < q.fetchSize {
			return nil
		}

		lastRow := batch[len(batch)-1]
		lastKey, err := splits.CoerceKey(split.KeyColumns, []any{lastRow[keyColumn.Name]})
		if err != nil {
			return fmt.Errorf("failed to read batch boundary key: %w", err)
		}
		lower = lastKey
		lowerInclusive = false
	}
}

func (q *sqlChunkQuerier) readBatch(ctx context.Context, query string, args []any, columns []string) ([]map[string]any, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(values))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	var batch []map[string]any
	for rows.Next() {
		if err = rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		batch = append(batch, row)
	}
	return batch, rows.Err()
}

func buildChunkQuery(table mysql.TableID, columns []string, keyColumn string, lower splits.SplitKey, lowerInclusive bool, upper splits.SplitKey, fetchSize uint) (string, []any) {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = fmt.Sprintf("`%s`", column)
	}

	var conditions []string
	var args []any
	if lower != nil {
		operator := ">"
		if lowerInclusive {
			operator = ">="
		}
		conditions = append(conditions, fmt.Sprintf("`%s` %s ?", keyColumn, operator))
		args = append(args, lower[0])
	}
	if upper != nil {
		conditions = append(conditions, fmt.Sprintf("`%s` < ?", keyColumn))
		args = append(args, upper[0])
	}

	query := fmt.Sprintf("SELECT %s FROM `%s`.`%s`", strings.Join(quoted, ","), table.Database, table.Table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY `%s` LIMIT %d", keyColumn, fetchSize)

	return query, args
}
