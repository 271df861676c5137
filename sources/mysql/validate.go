package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	libmysql "github.com/terrastream/mysql-cdc/lib/mysql"
)

// validateServer checks the server settings the protocol depends on. Failures
// here are configuration errors: fatal at startup, never retried.
func validateServer(ctx context.Context, db *sql.DB) error {
	value, err := libmysql.FetchVariable(ctx, db, "binlog_format")
	if err != nil {
		return err
	}
	if !strings.EqualFold(value, "ROW") {
		return fmt.Errorf("'binlog_format' must be set to 'ROW', current value is '%s'", value)
	}

	value, err = libmysql.FetchVariable(ctx, db, "binlog_row_image")
	if err != nil {
		return err
	}
	if !strings.EqualFold(value, "FULL") {
		return fmt.Errorf("'binlog_row_image' must be set to 'FULL', current value is '%s'", value)
	}

	return nil
}
