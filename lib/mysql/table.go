package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TableID identifies a table by database and table name.
type TableID struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

func NewTableID(database, table string) TableID {
	return TableID{Database: database, Table: table}
}

func (t TableID) String() string {
	return fmt.Sprintf("%s.%s", t.Database, t.Table)
}

// ParseTableID parses "db.table". A bare name resolves against defaultDatabase.
func ParseTableID(value, defaultDatabase string) TableID {
	database, table, found := strings.Cut(value, ".")
	if !found {
		return TableID{Database: defaultDatabase, Table: value}
	}
	return TableID{Database: database, Table: table}
}

type Column struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}

// Table captures a table's shape at a point in time. A copy rides along with
// every split so that workers decode rows against the schema the chunk was
// planned with.
type Table struct {
	ID              TableID  `json:"id"`
	Columns         []Column `json:"columns"`
	PrimaryKeys     []string `json:"primaryKeys"`
	CreateStatement string   `json:"createStatement"`
}

func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// LoadTable reads a table's columns, primary key, and create statement.
func LoadTable(ctx context.Context, db *sql.DB, tableID TableID) (*Table, error) {
	table := &Table{ID: tableID}

	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
		tableID.Database, tableID.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for %s: %w", tableID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col Column
		var nullable string
		if err = rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		table.Columns = append(table.Columns, col)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist or has no columns", tableID)
	}

	pkRows, err := db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.key_column_usage
WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY' ORDER BY ordinal_position`,
		tableID.Database, tableID.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key for %s: %w", tableID, err)
	}
	defer pkRows.Close()

	for pkRows.Next() {
		var name string
		if err = pkRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key row: %w", err)
		}
		table.PrimaryKeys = append(table.PrimaryKeys, name)
	}
	if err = pkRows.Err(); err != nil {
		return nil, err
	}

	var name, createStmt string
	row := db.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`.`%s`", tableID.Database, tableID.Table))
	if err = row.Scan(&name, &createStmt); err != nil {
		return nil, fmt.Errorf("failed to read create statement for %s: %w", tableID, err)
	}
	table.CreateStatement = createStmt

	return table, nil
}
