package splits

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/lib/rdbms"
)

// maxDensityFactor bounds how sparse an integer key may be before the
// arithmetic fast path would produce mostly-empty chunks and we fall back to
// boundary hunting: (max - min + 1) must not exceed count * factor.
const maxDensityFactor = 2

// KeyCursor produces chunk boundaries for a table. The SQL-backed
// implementation is sqlKeyCursor; tests inject deterministic key sequences.
type KeyCursor interface {
	// Stats returns the smallest key, the largest key, and the row count.
	// An empty table returns (nil, nil, 0).
	Stats(ctx context.Context) (SplitKey, SplitKey, int64, error)

	// NextBoundary returns the key chunkSize rows past from (exclusive), or
	// nil when fewer than chunkSize rows remain.
	NextBoundary(ctx context.Context, from SplitKey, chunkSize uint) (SplitKey, error)
}

// ChunkPlanner cuts a table into snapshot splits of roughly chunkSize rows.
type ChunkPlanner struct {
	table     mysql.Table
	keyColumn KeyColumn
	chunkSize uint
}

// NewChunkPlanner validates the table's split key and fixes its comparison
// policy. Tables without a primary key cannot be chunked.
func NewChunkPlanner(table mysql.Table, chunkSize uint) (*ChunkPlanner, error) {
	if len(table.PrimaryKeys) == 0 {
		return nil, fmt.Errorf("table %s has no primary key, cannot plan chunks", table.ID)
	}

	// The split key is the first primary key column.
	keyName := table.PrimaryKeys[0]
	column, isOk := table.Column(keyName)
	if !isOk {
		return nil, fmt.Errorf("primary key column %q not found in table %s", keyName, table.ID)
	}

	kind, err := KindForDataType(column.DataType)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", table.ID, err)
	}

	if chunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}

	return &ChunkPlanner{
		table:     table,
		keyColumn: KeyColumn{Name: keyName, Kind: kind},
		chunkSize: chunkSize,
	}, nil
}

func (p *ChunkPlanner) KeyColumn() KeyColumn {
	return p.keyColumn
}

// Plan produces the chunk list. The first chunk is unbounded below and the
// last unbounded above, so the union covers the whole key space exactly.
func (p *ChunkPlanner) Plan(ctx context.Context, cursor KeyCursor) ([]SnapshotSplit, error) {
	minKey, maxKey, count, err := cursor.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read key stats for %s: %w", p.table.ID, err)
	}

	var boundaries []SplitKey
	if count > 0 {
		if p.keyColumn.Kind.IsNumeric() && isDense(minKey, maxKey, count) {
			boundaries, err = arithmeticBoundaries(p.keyColumn.Kind, minKey, maxKey, p.chunkSize)
		} else {
			boundaries, err = p.huntBoundaries(ctx, cursor, minKey)
		}
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Planned table chunks",
		slog.String("table", p.table.ID.String()),
		slog.Int64("rowCount", count),
		slog.Int("chunks", len(boundaries)+1),
	)

	return p.buildSplits(boundaries), nil
}

// isDense reports whether an integer key is packed tightly enough for
// arithmetic chunking.
func isDense(minKey, maxKey SplitKey, count int64) bool {
	span, isOk := keySpan(minKey, maxKey)
	if !isOk {
		return false
	}
	return span <= uint64(count)*maxDensityFactor
}

// keySpan computes max - min + 1 for a single-column integer key.
func keySpan(minKey, maxKey SplitKey) (uint64, bool) {
	if len(minKey) != 1 || len(maxKey) != 1 {
		return 0, false
	}

	switch minVal := minKey[0].(type) {
	case int64:
		maxVal, isOk := maxKey[0].(int64)
		if !isOk || maxVal < minVal {
			return 0, false
		}
		return uint64(maxVal-minVal) + 1, true
	case uint64:
		maxVal, isOk := maxKey[0].(uint64)
		if !isOk || maxVal < minVal {
			return 0, false
		}
		return maxVal - minVal + 1, true
	default:
		return 0, false
	}
}

// arithmeticBoundaries produces boundaries min+N, min+2N, ... <= max.
func arithmeticBoundaries(kind KeyKind, minKey, maxKey SplitKey, chunkSize uint) ([]SplitKey, error) {
	var boundaries []SplitKey
	switch kind {
	case KeyKindInt:
		minVal := minKey[0].(int64)
		maxVal := maxKey[0].(int64)
		for b := minVal + int64(chunkSize); b <= maxVal; b += int64(chunkSize) {
			boundaries = append(boundaries, SplitKey{b})
			if b > maxVal-int64(chunkSize) {
				break
			}
		}
	case KeyKindUint:
		minVal := minKey[0].(uint64)
		maxVal := maxKey[0].(uint64)
		for b := minVal + uint64(chunkSize); b <= maxVal; b += uint64(chunkSize) {
			boundaries = append(boundaries, SplitKey{b})
			if b > maxVal-uint64(chunkSize) {
				break
			}
		}
	default:
		return nil, fmt.Errorf("arithmetic chunking is not supported for key kind %q", kind)
	}
	return boundaries, nil
}

// huntBoundaries walks the key space with bounded skip queries, seeded at the
// smallest key.
func (p *ChunkPlanner) huntBoundaries(ctx context.Context, cursor KeyCursor, minKey SplitKey) ([]SplitKey, error) {
	var boundaries []SplitKey
	last := minKey
	for {
		boundary, err := cursor.NextBoundary(ctx, last, p.chunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to find chunk boundary for %s: %w", p.table.ID, err)
		}
		if boundary == nil {
			return boundaries, nil
		}

		boundaries = append(boundaries, boundary)
		last = boundary
	}
}

func (p *ChunkPlanner) buildSplits(boundaries []SplitKey) []SnapshotSplit {
	schemas := map[string]mysql.Table{p.table.ID.String(): p.table}
	columns := []KeyColumn{p.keyColumn}

	splits := make([]SnapshotSplit, 0, len(boundaries)+1)
	var start SplitKey
	for i, boundary := range boundaries {
		splits = append(splits, SnapshotSplit{
			ID:         fmt.Sprintf("%s:%d", p.table.ID, i),
			Table:      p.table.ID,
			KeyColumns: columns,
			Start:      start,
			End:        boundary,
			Schemas:    schemas,
		})
		start = boundary
	}

	splits = append(splits, SnapshotSplit{
		ID:         fmt.Sprintf("%s:%d", p.table.ID, len(boundaries)),
		Table:      p.table.ID,
		KeyColumns: columns,
		Start:      start,
		End:        nil,
		Schemas:    schemas,
	})
	return splits
}

// sqlKeyCursor implements KeyCursor against a live database.
type sqlKeyCursor struct {
	db     *sql.DB
	table  mysql.TableID
	column KeyColumn
}

func NewSQLKeyCursor(db *sql.DB, table mysql.TableID, column KeyColumn) KeyCursor {
	return &sqlKeyCursor{db: db, table: table, column: column}
}

func (c *sqlKeyCursor) Stats(ctx context.Context) (SplitKey, SplitKey, int64, error) {
	query := fmt.Sprintf("SELECT MIN(`%s`), MAX(`%s`), COUNT(*) FROM `%s`.`%s`",
		c.column.Name, c.column.Name, c.table.Database, c.table.Table)

	var minRaw, maxRaw any
	var count int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&minRaw, &maxRaw, &count); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read key stats: %w", err)
	}

	if count == 0 || minRaw == nil || maxRaw == nil {
		return nil, nil, 0, nil
	}

	minKey, err := CoerceKey([]KeyColumn{c.column}, []any{minRaw})
	if err != nil {
		return nil, nil, 0, err
	}

	maxKey, err := CoerceKey([]KeyColumn{c.column}, []any{maxRaw})
	if err != nil {
		return nil, nil, 0, err
	}

	return minKey, maxKey, count, nil
}

func (c *sqlKeyCursor) NextBoundary(ctx context.Context, from SplitKey, chunkSize uint) (SplitKey, error) {
	var row *sql.Row
	if from == nil {
		query := fmt.Sprintf("SELECT `%s` FROM `%s`.`%s` ORDER BY `%s` LIMIT 1 OFFSET %d",
			c.column.Name, c.table.Database, c.table.Table, c.column.Name, chunkSize-1)
		row = c.db.QueryRowContext(ctx, query)
	} else {
		query := fmt.Sprintf("SELECT `%s` FROM `%s`.`%s` WHERE `%s` > ? ORDER BY `%s` LIMIT 1 OFFSET %d",
			c.column.Name, c.table.Database, c.table.Table, c.column.Name, c.column.Name, chunkSize-1)
		row = c.db.QueryRowContext(ctx, query, from[0])
	}

	var raw any
	if err := row.Scan(&raw); err != nil {
		if rdbms.IsNoRowsErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan boundary row: %w", err)
	}

	return CoerceKey([]KeyColumn{c.column}, []any{raw})
}
