package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
)

const connectRetries = 5

// Connect opens a database handle and verifies it with a bounded, retried ping.
// The handshake timeout comes from the DSN.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ping := func() error {
		return db.PingContext(ctx)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	if err = backoff.Retry(ping, policy); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// CurrentOffset reads the current tip of the binary log.
func CurrentOffset(ctx context.Context, db *sql.DB) (BinlogOffset, error) {
	row := db.QueryRowContext(ctx, "SHOW MASTER STATUS")

	var file string
	var pos int64
	var binlogDoDB, binlogIgnoreDB, executedGtidSet sql.NullString
	if err := row.Scan(&file, &pos, &binlogDoDB, &binlogIgnoreDB, &executedGtidSet); err != nil {
		return BinlogOffset{}, fmt.Errorf("failed to read binlog position, is binary logging enabled? %w", err)
	}

	return BinlogOffset{File: file, Pos: pos}, nil
}

// EarliestOffset returns the start of the oldest retained binlog file.
// Events in a binlog file begin at position 4, after the magic header.
func EarliestOffset(ctx context.Context, db *sql.DB) (BinlogOffset, error) {
	rows, err := db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return BinlogOffset{}, fmt.Errorf("failed to list binary logs: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return BinlogOffset{}, fmt.Errorf("server returned no binary logs")
	}

	var file string
	var size int64
	cols, err := rows.Columns()
	if err != nil {
		return BinlogOffset{}, fmt.Errorf("failed to get columns: %w", err)
	}

	// MySQL 8 adds an Encrypted column.
	switch len(cols) {
	case 2:
		err = rows.Scan(&file, &size)
	case 3:
		var encrypted string
		err = rows.Scan(&file, &size, &encrypted)
	default:
		return BinlogOffset{}, fmt.Errorf("unexpected SHOW BINARY LOGS shape: %v", cols)
	}
	if err != nil {
		return BinlogOffset{}, fmt.Errorf("failed to scan binary log row: %w", err)
	}

	return BinlogOffset{File: file, Pos: 4}, rows.Err()
}

// ListBinaryLogs returns the retained binlog file names in server order.
func ListBinaryLogs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, fmt.Errorf("failed to list binary logs: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var files []string
	for rows.Next() {
		var file string
		var size int64
		var encrypted string
		switch len(cols) {
		case 2:
			err = rows.Scan(&file, &size)
		case 3:
			err = rows.Scan(&file, &size, &encrypted)
		default:
			return nil, fmt.Errorf("unexpected SHOW BINARY LOGS shape: %v", cols)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan binary log row: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// FetchVariable reads a single server variable.
func FetchVariable(ctx context.Context, db *sql.DB, name string) (string, error) {
	row := db.QueryRowContext(ctx, "SHOW VARIABLES WHERE variable_name = ?", name)
	if row.Err() != nil {
		return "", fmt.Errorf("failed to query for %q variable: %w", name, row.Err())
	}

	var variableName string
	var value string
	if err := row.Scan(&variableName, &value); err != nil {
		return "", fmt.Errorf("failed to scan row: %w", err)
	} else if variableName != name {
		return "", fmt.Errorf("the variable %q was returned instead of %q", variableName, name)
	}

	return value, nil
}
